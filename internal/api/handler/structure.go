package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/site_structure_server/internal/model/dto"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/pkg/response"
	"github.com/qs3c/site_structure_server/internal/service"
)

const maxListLimit = 1000

type StructureHandler struct {
	structureService *service.StructureService
	log              *logger.Logger
}

func NewStructureHandler(structureService *service.StructureService, log *logger.Logger) *StructureHandler {
	if log == nil {
		log = logger.Default()
	}
	return &StructureHandler{
		structureService: structureService,
		log:              log,
	}
}

// Get 获取网站结构，没有缓存时加入分析队列
// GET /api/v1/companies/:id/structure
func (h *StructureHandler) Get(c *gin.Context) {
	companyID, ok := companyIDParam(c)
	if !ok {
		return
	}

	resp, err := h.structureService.GetStructure(c.Request.Context(), companyID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, resp.Status, resp)
}

// Refresh 强制重新分析
// POST /api/v1/companies/:id/structure/refresh
func (h *StructureHandler) Refresh(c *gin.Context) {
	companyID, ok := companyIDParam(c)
	if !ok {
		return
	}

	var req dto.RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, err.Error())
			return
		}
	}

	job, err := h.structureService.RequestRefresh(c.Request.Context(), companyID, req.Priority)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "refresh queued", job)
}

// Pages 分页获取公司页面，按评分降序
// GET /api/v1/companies/:id/structure/pages
func (h *StructureHandler) Pages(c *gin.Context) {
	companyID, ok := companyIDParam(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	items, total, page, pageSize, err := h.structureService.ListPages(c.Request.Context(), companyID, c.Query("page_type"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Job 获取公司的分析任务
// GET /api/v1/companies/:id/job
func (h *StructureHandler) Job(c *gin.Context) {
	companyID, ok := companyIDParam(c)
	if !ok {
		return
	}

	job, err := h.structureService.JobStatus(c.Request.Context(), companyID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, job)
}

// HighValuePages 跨公司查询高价值页面
// GET /api/v1/structures/high-value-pages?domain=&page_types=a,b&max_tier=&limit=
func (h *StructureHandler) HighValuePages(c *gin.Context) {
	maxTier, err := optionalInt(c, "max_tier")
	if err != nil {
		response.ParamError(c, "invalid max_tier")
		return
	}
	limit, err := optionalInt(c, "limit")
	if err != nil || limit > maxListLimit {
		response.ParamError(c, "invalid limit")
		return
	}

	filter := dto.HighValuePageFilter{
		Domain:  c.Query("domain"),
		MaxTier: maxTier,
		Limit:   limit,
	}
	if types := c.Query("page_types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(strings.ToLower(t)); t != "" {
				filter.PageTypes = append(filter.PageTypes, t)
			}
		}
	}

	pages, err := h.structureService.HighValuePages(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, pages)
}

// BISummary 按业务价值等级和分类汇总页面
// GET /api/v1/structures/bi-summary?tier=&classification=&limit=
func (h *StructureHandler) BISummary(c *gin.Context) {
	tier, err := optionalInt(c, "tier")
	if err != nil {
		response.ParamError(c, "invalid tier")
		return
	}
	limit, err := optionalInt(c, "limit")
	if err != nil || limit > maxListLimit {
		response.ParamError(c, "invalid limit")
		return
	}

	rows, err := h.structureService.BISummary(c.Request.Context(), dto.BISummaryFilter{
		Tier:           tier,
		Classification: strings.ToLower(c.Query("classification")),
		Limit:          limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, rows)
}

// EnqueueAll 为所有有网站的公司加入分析队列
// POST /api/v1/structures/enqueue-all
func (h *StructureHandler) EnqueueAll(c *gin.Context) {
	resp, err := h.structureService.EnqueueAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, resp)
}

func (h *StructureHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCompanyNotFound), errors.Is(err, service.ErrJobNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrNoWebsite):
		response.ParamError(c, err.Error())
	default:
		_ = c.Error(err)
		h.log.WithFields(logger.Fields{"path": c.FullPath(), "error": err.Error()}).Error("request failed")
		response.ServerError(c, "")
	}
}

func companyIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "invalid company id")
		return 0, false
	}
	return id, true
}

// optionalInt 查询参数缺失时返回 0
func optionalInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}
