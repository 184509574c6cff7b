package database

import (
	"fmt"
	"log"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	err = db.AutoMigrate(
		&model.User{},
		&model.ContentDefinition{},
		&model.ContentDefinitionItem{},
		&model.AssignmentInstance{},
		&model.ContentUnit{},
		&model.ContentUnitItem{},
		&model.ContentProgress{},
		&model.ItemProgress{},
		&model.ItemScoreRevision{},
	)

	if err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	// 默认朗读素材（库为空时写入演示内容）
	var defCount int64
	db.Model(&model.ContentDefinition{}).Count(&defCount)
	if defCount == 0 {
		demo := &model.ContentDefinition{
			Title:        "Everyday Greetings",
			Description:  "入门口语练习：日常问候",
			Language:     "en",
			VersionLabel: "v1",
			Published:    true,
		}
		if err := db.Create(demo).Error; err == nil {
			items := []model.ContentDefinitionItem{
				{DefinitionID: demo.ID, Order: 1, Text: "Good morning! How are you today?", Translation: "早上好！你今天怎么样？"},
				{DefinitionID: demo.ID, Order: 2, Text: "Nice to meet you.", Translation: "很高兴认识你。"},
				{DefinitionID: demo.ID, Order: 3, Text: "See you tomorrow!", Translation: "明天见！"},
			}
			for i := range items {
				db.Create(&items[i])
			}
		}
	}

	return db, nil
}
