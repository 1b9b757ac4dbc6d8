package domain

import "errors"

var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrDuplicateCustomer = errors.New("customer already exists")
	ErrDuplicateMessage  = errors.New("message already recorded")
	ErrTicketClosed      = errors.New("ticket is in a terminal status")
)
