package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DeviceTokenTTL = 15 * time.Minute

var ErrTokenInvalid = errors.New("token invalid")

// Service signs and checks the bearer tokens exchanged between a HelmWatch
// daemon, its local bridges and the remote sync endpoint.
type Service struct {
	secret []byte
	now    func() time.Time
}

type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

func NewService(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (s *Service) SignDeviceToken(deviceID string, ttl time.Duration) (string, error) {
	if deviceID == "" {
		return "", errors.New("device id required")
	}
	now := s.now()
	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken returns the device id carried by a valid token.
func (s *Service) ValidateToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.DeviceID == "" {
		return "", ErrTokenInvalid
	}
	return claims.DeviceID, nil
}

// DeviceTokens mints a short-lived token for one device on every call.
type DeviceTokens struct {
	svc      *Service
	deviceID string
}

func (s *Service) DeviceTokens(deviceID string) *DeviceTokens {
	return &DeviceTokens{svc: s, deviceID: deviceID}
}

func (d *DeviceTokens) Token() (string, error) {
	return d.svc.SignDeviceToken(d.deviceID, DeviceTokenTTL)
}
