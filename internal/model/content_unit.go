package model

// ContentUnit 某个学生作业实例持有的内容工作副本。
// 创建后条目不可变，仅随所属 AssignmentInstance 一起清除。
// swagger:model ContentUnit
type ContentUnit struct {
	UUIDBase
	AssignmentID uint   `gorm:"index;type:bigint unsigned" json:"assignmentId"`
	Title        string `gorm:"size:200" json:"title"`
	Language     string `gorm:"size:20" json:"language"`

	// 溯源信息，仅用于追踪，不参与任何业务判定
	SourceDefinitionID uint   `gorm:"index;type:bigint unsigned" json:"sourceDefinitionId"`
	SourceVersionLabel string `gorm:"size:40" json:"sourceVersionLabel"`

	Items []ContentUnitItem `gorm:"foreignKey:UnitID" json:"items,omitempty"`
}

func (ContentUnit) TableName() string {
	return "content_units"
}

// swagger:model ContentUnitItem
type ContentUnitItem struct {
	BaseModel
	UnitID      string `gorm:"index;type:varchar(36)" json:"unitId"`
	Order       int    `gorm:"column:item_order" json:"order"`
	Text        string `gorm:"type:text" json:"text"`
	Translation string `gorm:"type:text" json:"translation"`
	RefAudioURL string `gorm:"size:500" json:"refAudioUrl"`
}

func (ContentUnitItem) TableName() string {
	return "content_unit_items"
}
