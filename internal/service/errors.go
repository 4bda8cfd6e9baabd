package service

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every *NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports that the entity with the given id does not exist.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func productNotFound(id int64) error {
	return &NotFoundError{Resource: "Product", ID: id}
}
