package security

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"PPMall/module/identity"
	"PPMall/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

// Claims sub 为用户 id，role 为 buyer/seller/admin
type Claims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate 为 principal 签发令牌
func Generate(opts Options, p identity.Principal) (token string, expireAt time.Time, err error) {
	if !p.Valid() {
		return "", time.Time{}, errs.ErrArgs.WrapMsg("invalid principal", "principal", p)
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := Claims{
		Role: p.Role.String(),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errs.WrapMsg(err, "sign token")
	}
	return signed, exp, nil
}

// Verify 校验签名与有效期，返回令牌对应的 principal
func Verify(opts Options, token string) (identity.Principal, error) {
	method, err := signingMethod(opts.Alg) // 校验 alg 合法
	if err != nil {
		return identity.Principal{}, err
	}
	var claims Claims
	parsed, err := jwtlib.ParseWithClaims(token, &claims, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return identity.Principal{}, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return identity.Principal{}, errs.ErrTokenInvalid.WrapMsg("invalid token")
	}
	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return identity.Principal{}, errs.ErrTokenInvalid.WrapMsg("bad role claim", "role", claims.Role)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return identity.Principal{}, errs.ErrTokenInvalid.WrapMsg("bad sub claim", "sub", claims.Subject)
	}
	return identity.Principal{Role: role, ID: id}, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errs.ErrArgs.WrapMsg("unsupported alg (use HS256/HS384/HS512)", "alg", alg)
	}
}
