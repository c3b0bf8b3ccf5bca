package repository

import (
	"context"

	"github.com/sefazor/portfolio-billing/internal/models"
	"gorm.io/gorm"
)

type CreditPackageRepository interface {
	GetByID(ctx context.Context, id uint) (*models.CreditPackage, error)
	GetAll(ctx context.Context) ([]models.CreditPackage, error)
}

// DefaultCreditPackages is seeded into an empty database and served as-is
// by the static repository.
func DefaultCreditPackages() []models.CreditPackage {
	return []models.CreditPackage{
		{ID: 1, Name: "Starter", Description: "100 credits for AI assistant and brand tools", Credits: 100, PriceCents: 500, IsActive: true},
		{ID: 2, Name: "Builder", Description: "500 credits", Credits: 500, PriceCents: 2000, IsActive: true},
		{ID: 3, Name: "Studio", Description: "1500 credits, best value", Credits: 1500, PriceCents: 5000, IsActive: true},
	}
}

type GormCreditPackageRepository struct {
	db *gorm.DB
}

func NewCreditPackageRepository(db *gorm.DB) *GormCreditPackageRepository {
	return &GormCreditPackageRepository{
		db: db,
	}
}

func (r *GormCreditPackageRepository) GetByID(ctx context.Context, id uint) (*models.CreditPackage, error) {
	var creditPackage models.CreditPackage
	err := r.db.WithContext(ctx).Where("is_active = ?", true).First(&creditPackage, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &creditPackage, nil
}

func (r *GormCreditPackageRepository) GetAll(ctx context.Context) ([]models.CreditPackage, error) {
	var packages []models.CreditPackage
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("price_cents").Find(&packages).Error
	return packages, translate(err)
}

type StaticCreditPackageRepository struct {
	packages []models.CreditPackage
}

func NewStaticCreditPackageRepository(packages []models.CreditPackage) *StaticCreditPackageRepository {
	return &StaticCreditPackageRepository{packages: packages}
}

func (r *StaticCreditPackageRepository) GetByID(ctx context.Context, id uint) (*models.CreditPackage, error) {
	for _, p := range r.packages {
		if p.ID == id && p.IsActive {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r *StaticCreditPackageRepository) GetAll(ctx context.Context) ([]models.CreditPackage, error) {
	out := make([]models.CreditPackage, 0, len(r.packages))
	for _, p := range r.packages {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}
