package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/qs3c/site_structure_server/config"
	"github.com/qs3c/site_structure_server/internal/database"
	"github.com/qs3c/site_structure_server/internal/pkg/logger"
	"github.com/qs3c/site_structure_server/internal/repository"
	"github.com/qs3c/site_structure_server/internal/service"
)

type rootOptions struct {
	configPath string
}

// deps 按命令打开，不需要数据库的命令在没有数据库时也能运行
type deps struct {
	cfg              *config.Config
	log              *logger.Logger
	db               *gorm.DB
	jobRepo          *repository.JobRepository
	structureService *service.StructureService
}

func (d *deps) close() {
	if d.db == nil {
		return
	}
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "sitectl",
		Short:         "Operate the website structure analysis queue",
		Long:          `sitectl enqueues analyses, inspects the job queue and runs a discovery pass against a single domain.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the config file")

	root.AddCommand(
		newEnqueueAllCommand(opts),
		newEnqueueCommand(opts),
		newRequeueStaleCommand(opts),
		newStatusCommand(opts),
		newAnalyzeCommand(opts),
	)
	return root
}

func loadConfig(opts *rootOptions) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

func openDeps(opts *rootOptions) (*deps, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}

	jobRepo := repository.NewJobRepository(db).WithMaxAttempts(cfg.Queue.MaxAttempts)
	return &deps{
		cfg:     cfg,
		log:     log,
		db:      db,
		jobRepo: jobRepo,
		structureService: service.NewStructureService(
			repository.NewStructureRepository(db),
			jobRepo,
			repository.NewCompanyRepository(db),
			nil,
			cfg,
			log,
		),
	}, nil
}
