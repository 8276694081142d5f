package signature

import (
	"strconv"
	"time"

	"golang.org/x/net/xsrftoken"
)

const transferActionPrefix = "dl:"

// TransferTokens issues short-lived tokens for the /dl/{zone} indirection path
type TransferTokens struct {
	Key     string
	Timeout time.Duration
}

func NewTransferTokens(secret []byte, timeout time.Duration) *TransferTokens {
	return &TransferTokens{
		Key:     string(secret),
		Timeout: timeout,
	}
}

func (tt *TransferTokens) Token(uid string, zone int) string {
	return xsrftoken.Generate(tt.Key, uid, transferActionPrefix+strconv.Itoa(zone))
}

func (tt *TransferTokens) Verify(token, uid string, zone int) bool {
	if len(token) == 0 {
		return false
	}

	return xsrftoken.ValidFor(token, tt.Key, uid, transferActionPrefix+strconv.Itoa(zone), tt.Timeout)
}
