package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sandeepkv93/product-catalog-backend/internal/domain"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
)

// TimestampLayout is the wire format of created_at and updated_at.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrPriceNotNumber is returned while decoding a price that is neither a
// JSON number nor a numeric string, or whose exponent is out of range.
var ErrPriceNotNumber = errors.New("price must be a number conforming to the specified constraints")

// Price decodes a JSON number or numeric string into a fixed-point value.
type Price struct {
	decimal.Decimal
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil || !domain.PriceExponentInRange(d) {
		return ErrPriceNotNumber
	}
	p.Decimal = d
	return nil
}

type CreateProductRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"required"`
	Price       *Price `json:"price" validate:"-"`
}

type UpdateProductRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Price       *Price  `json:"price"`
}

// Validate returns every violated rule, in field order. An empty result
// means the request is valid.
func (r CreateProductRequest) Validate() []string {
	var msgs []string
	if err := validate.Struct(r); err != nil {
		msgs = append(msgs, fieldMessages(err)...)
	}
	if r.Price == nil {
		return append(msgs, "price should not be empty")
	}
	return append(msgs, priceMessages(r.Price.Decimal)...)
}

// Validate applies the create rules to the fields that are present.
func (r UpdateProductRequest) Validate() []string {
	var msgs []string
	if r.Name != nil {
		msgs = append(msgs, varMessages("name", *r.Name, "required,max=255")...)
	}
	if r.Description != nil {
		msgs = append(msgs, varMessages("description", *r.Description, "required")...)
	}
	if r.Price != nil {
		msgs = append(msgs, priceMessages(r.Price.Decimal)...)
	}
	return msgs
}

func (r CreateProductRequest) ToInput() service.CreateProductInput {
	in := service.CreateProductInput{Name: r.Name, Description: r.Description}
	if r.Price != nil {
		in.Price = domain.NormalizePrice(r.Price.Decimal)
	}
	return in
}

func (r UpdateProductRequest) ToInput() service.UpdateProductInput {
	in := service.UpdateProductInput{Name: r.Name, Description: r.Description}
	if r.Price != nil {
		p := domain.NormalizePrice(r.Price.Decimal)
		in.Price = &p
	}
	return in
}

func priceMessages(d decimal.Decimal) []string {
	if err := domain.ValidatePrice(domain.NormalizePrice(d)); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func varMessages(field string, value any, tag string) []string {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ruleMessage(field, fe.Tag(), fe.Param()))
	}
	return out
}

func fieldMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ruleMessage(jsonName(fe.Field()), fe.Tag(), fe.Param()))
	}
	return out
}

func jsonName(field string) string {
	switch field {
	case "Name":
		return "name"
	case "Description":
		return "description"
	case "Price":
		return "price"
	default:
		return field
	}
}

func ruleMessage(field, tag, param string) string {
	switch tag {
	case "required":
		return field + " should not be empty"
	case "max":
		return fmt.Sprintf("%s must be shorter than or equal to %s characters", field, param)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

type ProductResponse struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       json.Number `json:"price"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

func ToProductResponse(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       domain.PriceJSON(p.Price),
		CreatedAt:   formatTimestamp(p.CreatedAt),
		UpdatedAt:   formatTimestamp(p.UpdatedAt),
	}
}

func ToProductResponseList(products []domain.Product) []ProductResponse {
	out := make([]ProductResponse, 0, len(products))
	for i := range products {
		out = append(out, ToProductResponse(&products[i]))
	}
	return out
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
