package domain

import "errors"

var ErrNotFinalInvoice = errors.New("not_final_invoice")
