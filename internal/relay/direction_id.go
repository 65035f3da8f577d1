package relay

import "github.com/gofrs/uuid/v5"

func newDirectionID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
