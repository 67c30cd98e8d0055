package identity

import (
	"fmt"
	"strconv"
	"strings"

	"PPMall/tools/errs"
)

// Role 连接/消息接收方的角色；闭合枚举
type Role uint8

const (
	RoleBuyer Role = iota + 1
	RoleSeller
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleBuyer:  "buyer",
	RoleSeller: "seller",
	RoleAdmin:  "admin",
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return "role(" + strconv.Itoa(int(r)) + ")"
}

func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, errs.ErrArgs.WrapMsg("unknown role", "role", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Principal (role, id) 二元组，作为 map key 使用
type Principal struct {
	Role Role  `json:"role" bson:"role"`
	ID   int64 `json:"id,string" bson:"id"`
}

func Buyer(id int64) Principal  { return Principal{Role: RoleBuyer, ID: id} }
func Seller(id int64) Principal { return Principal{Role: RoleSeller, ID: id} }
func Admin(id int64) Principal  { return Principal{Role: RoleAdmin, ID: id} }

func (p Principal) Valid() bool {
	return p.Role.Valid() && p.ID > 0
}

func (p Principal) String() string {
	return p.Role.String() + ":" + strconv.FormatInt(p.ID, 10)
}

// ParsePrincipal 解析 "buyer:42" 形式
func ParsePrincipal(s string) (Principal, error) {
	role, id, ok := strings.Cut(s, ":")
	if !ok {
		return Principal{}, errs.ErrArgs.WrapMsg("malformed principal", "value", s)
	}
	r, err := ParseRole(role)
	if err != nil {
		return Principal{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return Principal{}, errs.ErrArgs.WrapMsg("malformed principal id", "value", s)
	}
	return Principal{Role: r, ID: n}, nil
}
