package jwttoken

import (
	authmw "facturador/pkg/platform/middleware/auth"
)

// ServiceAdapter bridges the token service to the auth middleware without
// coupling the middleware to JWT internals.
type ServiceAdapter struct {
	service *Service
}

func NewServiceAdapter(service *Service) *ServiceAdapter {
	return &ServiceAdapter{service: service}
}

func (a *ServiceAdapter) ValidateToken(tokenString string) (*authmw.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.Claims{
		Actor:    claims.Actor,
		ClientID: claims.ClientID,
	}, nil
}
