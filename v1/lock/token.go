package lock

import (
	"strconv"
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

// newToken returns the value stored for a single acquisition. Two
// acquisitions never share a token, even for the same owner and key.
func newToken(owner string) (string, error) {
	nonce, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	return owner + ":" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":" + nonce, nil
}
