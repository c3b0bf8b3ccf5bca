package service

import (
	"context"
	"errors"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
)

type PackageService struct {
	packageRepo repository.CreditPackageRepository
}

func NewPackageService(packageRepo repository.CreditPackageRepository) *PackageService {
	return &PackageService{
		packageRepo: packageRepo,
	}
}

func (s *PackageService) GetAllPackages(ctx context.Context) ([]models.CreditPackage, error) {
	packages, err := s.packageRepo.GetAll(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return packages, nil
}

func (s *PackageService) GetPackageByID(ctx context.Context, id uint) (*models.CreditPackage, error) {
	pkg, err := s.packageRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeError(err)
	}
	return pkg, nil
}
