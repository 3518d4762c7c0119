package customer

import "errors"

var (
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrCustomerInactive    = errors.New("customer account is not active")
	ErrInsufficientBalance = errors.New("insufficient points balance")
)
