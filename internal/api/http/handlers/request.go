package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/user-management/internal/repository"
	"github.com/spec-kit/user-management/internal/service"
	apperrors "github.com/spec-kit/user-management/pkg/util"
)

// bindAndValidate parses the JSON body into req and runs its validation rules.
func bindAndValidate(c *fiber.Ctx, req validation.Validatable) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	return validate(req)
}

func validate(req validation.Validatable) error {
	err := req.Validate()
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]any, len(fieldErrs))
		for field, fieldErr := range fieldErrs {
			details[field] = fieldErr.Error()
		}
		return apperrors.NewValidationError("invalid payload", details)
	}
	return apperrors.NewValidationError(err.Error(), nil)
}

// userIDParam returns the :id route parameter. Values that are not UUIDs
// cannot name an account and are reported as not found.
func userIDParam(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	return id, nil
}

func parsePageRequest(c *fiber.Ctx) (service.PageRequest, error) {
	req := service.PageRequest{
		Page: parseIntQuery(c, "page", 0),
		Size: parseIntQuery(c, "size", 0),
	}
	if sortBy := c.Query("sort_by", c.Query("sortBy")); sortBy != "" {
		field, ok := repository.ParseSortField(sortBy)
		if !ok {
			return req, apperrors.NewValidationError("invalid sort field", map[string]any{"sort_by": sortBy})
		}
		req.SortBy = field
	}
	dir := strings.ToLower(c.Query("sort_dir", c.Query("sortDir", "asc")))
	switch dir {
	case "asc":
	case "desc":
		req.SortDesc = true
	default:
		return req, apperrors.NewValidationError("invalid sort direction", map[string]any{"sort_dir": dir})
	}
	return req, nil
}

func parseIntQuery(c *fiber.Ctx, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return defaultVal
}
