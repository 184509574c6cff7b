package model

// ContentDefinition 课程素材库中的共享朗读内容，教师可持续编辑。
// 派发作业时由 VersioningService 深拷贝为 ContentUnit，之后再编辑不影响任何快照。
// swagger:model ContentDefinition
type ContentDefinition struct {
	BaseModel
	Title        string                  `gorm:"size:200" json:"title"`
	Description  string                  `gorm:"type:text" json:"description"`
	Language     string                  `gorm:"size:20;default:'en'" json:"language"`
	VersionLabel string                  `gorm:"size:40;default:'v1'" json:"versionLabel"`
	CreatorID    uint                    `gorm:"index;type:bigint unsigned" json:"creatorId"`
	Published    bool                    `gorm:"default:false" json:"published"`
	Items        []ContentDefinitionItem `gorm:"foreignKey:DefinitionID" json:"items,omitempty"`
}

func (ContentDefinition) TableName() string {
	return "content_definitions"
}

// swagger:model ContentDefinitionItem
type ContentDefinitionItem struct {
	BaseModel
	DefinitionID uint   `gorm:"index;type:bigint unsigned" json:"definitionId"`
	Order        int    `gorm:"column:item_order" json:"order"`
	Text         string `gorm:"type:text" json:"text"`
	Translation  string `gorm:"type:text" json:"translation"`
	RefAudioURL  string `gorm:"size:500" json:"refAudioUrl"`
}

func (ContentDefinitionItem) TableName() string {
	return "content_definition_items"
}
