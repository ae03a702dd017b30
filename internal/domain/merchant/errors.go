package merchant

import "errors"

var (
	ErrMerchantNotFound = errors.New("merchant not found")
)
