package service

import (
	"errors"

	"github.com/devkade/hackathon-starter/internal/domain"
)

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
