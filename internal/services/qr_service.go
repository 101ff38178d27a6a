package services

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const DefaultQRSize = 256

var ErrNoResultURL = errors.New("result url template not configured")

// QRService builds guest result links and their QR codes.
type QRService struct {
	template string
	size     int
}

// NewQRService takes a URL template where {session} is replaced by the session id
func NewQRService(template string, size int) *QRService {
	if size <= 0 {
		size = DefaultQRSize
	}
	return &QRService{template: template, size: size}
}

func (s *QRService) ResultURL(sessionID string) (string, error) {
	if s.template == "" {
		return "", ErrNoResultURL
	}
	return strings.ReplaceAll(s.template, "{session}", sessionID), nil
}

func (s *QRService) PNG(url string) ([]byte, error) {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("generate qr code: %w", err)
	}
	png, err := code.PNG(s.size)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return png, nil
}

func (s *QRService) DataURL(url string) (string, error) {
	png, err := s.PNG(url)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
