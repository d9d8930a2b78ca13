package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/token/config"
)

var ErrInvalidToken = errors.New("invalid token")

const defaultTokenExp = 12 * time.Hour

// Claims - утверждения операторского токена
type Claims struct {
	jwt.RegisteredClaims
	OperatorID string `json:"userId"`
	Username   string `json:"username"`
}

// BuildJWTString создаёт токен оператора и возвращает его в виде строки.
func BuildJWTString(cfg config.Config, operator model.Operator) (string, error) {
	exp := cfg.TokenExp
	if exp <= 0 {
		exp = defaultTokenExp
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			// когда создан токен
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
		},
		OperatorID: operator.ID,
		Username:   operator.Username,
	})

	tokenString, err := token.SignedString([]byte(cfg.SecretKey))
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetOperator проверяет подпись и срок токена
func GetOperator(cfg config.Config, tokenString string) (model.Operator, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return []byte(cfg.SecretKey), nil
		})
	if err != nil {
		return model.Operator{}, err
	}
	if !token.Valid || claims.OperatorID == "" {
		return model.Operator{}, ErrInvalidToken
	}
	return model.Operator{ID: claims.OperatorID, Username: claims.Username}, nil
}
