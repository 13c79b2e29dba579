// Package repository provides video.Repository implementations.
//
// Every store applies status updates through video.Apply inside its own
// transaction or lock, so the compare-and-set and transition rules are the
// same regardless of the backing database.
package repository

import (
	"encoding/json"
	"fmt"
	"recorder/internal/apperrors"
	"recorder/internal/video"
	"slices"
	"strings"
)

func encode(v *video.Video) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode video %s: %w", v.ID, err)
	}
	return b, nil
}

func decode(b []byte) (*video.Video, error) {
	var v video.Video
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode video: %w", err)
	}
	return &v, nil
}

func validatePut(v *video.Video) error {
	if v == nil || v.ID == "" {
		return apperrors.Validation("id", "video id is required")
	}
	if _, err := video.ParseStatus(string(v.Status)); err != nil {
		return apperrors.Validation("status", err.Error())
	}
	return nil
}

func wanted(statuses []video.Status) func(video.Status) bool {
	return func(s video.Status) bool {
		return slices.Contains(statuses, s)
	}
}

func sortByID(vs []*video.Video) {
	slices.SortFunc(vs, func(a, b *video.Video) int {
		return strings.Compare(a.ID, b.ID)
	})
}
