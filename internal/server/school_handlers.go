package server

import (
	"schooldesk/internal/models"
	"schooldesk/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListSchools handles GET /api/schools
func (s *Server) ListSchools(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	schools, total, err := s.schoolService.ListSchools(c.UserContext(), currentUser(c), page.Limit, page.Offset)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"items":  schools,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// CreateSchool handles POST /api/schools
func (s *Server) CreateSchool(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	school, err := s.schoolService.CreateSchool(c.UserContext(), currentUser(c), req.Name)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(school)
}

// UpdateSchool handles PUT /api/schools/:id
func (s *Server) UpdateSchool(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.UpdateSchoolInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	school, err := s.schoolService.UpdateSchool(c.UserContext(), currentUser(c), id, req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(school)
}

// GetSchoolBalance handles GET /api/schools/:id/balance
func (s *Server) GetSchoolBalance(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	balance, err := s.schoolService.GetBalance(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(balance)
}

// GetSchoolTransactions handles GET /api/schools/:id/transactions
func (s *Server) GetSchoolTransactions(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	page := parsePagination(c, 20)
	entries, total, err := s.schoolService.History(c.UserContext(), currentUser(c), id, page.Limit, page.Offset)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"items":  entries,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// ReconcileSchool handles GET /api/schools/:id/reconcile
func (s *Server) ReconcileSchool(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	rec, err := s.schoolService.Reconcile(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.JSON(rec)
}

// GrantCoins handles POST /api/schools/:id/grant
func (s *Server) GrantCoins(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.GrantInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	entry, err := s.schoolService.Grant(c.UserContext(), currentUser(c), id, req)
	if err != nil {
		return respondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// VerifyPayment handles POST /api/payments/verify
func (s *Server) VerifyPayment(c *fiber.Ctx) error {
	var req service.VerifyPurchaseInput
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	result, err := s.paymentService.VerifyPurchase(c.UserContext(), currentUser(c), req)
	if err != nil {
		return respondAppError(c, err)
	}
	status := fiber.StatusCreated
	if result.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(result)
}
