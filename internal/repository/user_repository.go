package repository

import (
	"speakedu_backend/internal/model"

	"gorm.io/gorm"
)

type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.DB.Create(user).Error
}

func (r *UserRepository) FindByID(id uint) (*model.User, error) {
	var u model.User
	err := r.DB.First(&u, id).Error
	return &u, err
}

func (r *UserRepository) FindByEmail(email string) (*model.User, error) {
	var u model.User
	err := r.DB.Where("email = ?", email).First(&u).Error
	return &u, err
}

func (r *UserRepository) ListStudentsByClassroom(classroomID uint) ([]model.User, error) {
	var users []model.User
	err := r.DB.Where("classroom_id = ? AND role = ?", classroomID, model.Student).Find(&users).Error
	return users, err
}

func (r *UserRepository) ListStudentsByIDs(ids []uint) ([]model.User, error) {
	var users []model.User
	err := r.DB.Where("id IN ? AND role = ?", ids, model.Student).Find(&users).Error
	return users, err
}
