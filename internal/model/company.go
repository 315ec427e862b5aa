package model

// Company 公司模型，属于企业名录应用，本服务只读
type Company struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"size:255" json:"name"`
	Website   string `gorm:"size:500" json:"website"`
	Industry  string `gorm:"size:255" json:"industry"`
	Employees int    `json:"employees"`
}

func (Company) TableName() string {
	return "companies"
}
