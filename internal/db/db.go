package db

import (
	"errors"
	"time"

	"github.com/JhonHurtado/chat-in-real-time/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GeneralRoomName 是启动时创建的公共房间名称。
const GeneralRoomName = "General"

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
// 开启 TranslateError，使唯一约束冲突以 gorm.ErrDuplicatedKey 返回。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				if err2 = sqlDB.Ping(); err2 == nil {
					sqlDB.SetMaxIdleConns(5)
					sqlDB.SetMaxOpenConns(20)
					sqlDB.SetConnMaxLifetime(time.Hour)
					return gdb, nil
				}
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Friendship{},
		&models.Room{},
		&models.RoomMember{},
		&models.Message{},
		&models.MessageRead{},
		&models.RefreshToken{},
	)
}

// EnsureGeneralRoom 保证存在唯一的 general 房间，已存在时直接返回。
func EnsureGeneralRoom(gdb *gorm.DB) (*models.Room, error) {
	var room models.Room
	err := gdb.Where("type = ?", models.RoomGeneral).Order("id asc").First(&room).Error
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	room = models.Room{Name: GeneralRoomName, Type: models.RoomGeneral}
	if err := gdb.Create(&room).Error; err != nil {
		return nil, err
	}
	return &room, nil
}
