//go:build !darwin

package oauth

import (
	"context"
	"errors"
)

func readKeychain(context.Context) ([]byte, error) {
	return nil, errors.New("keychain backend only available on darwin")
}
