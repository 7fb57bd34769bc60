package models

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

var fieldValidator = validator.New()

// UserRegistrationCommand 是 user.registration.event 主题中消息经过校验后的结构
type UserRegistrationCommand struct {
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// FieldViolation 描述一个字段不满足约束的原因
type FieldViolation struct {
	Field   string
	Message string
}

func (v FieldViolation) String() string {
	return v.Field + " " + v.Message
}

// DecodeUserRegistration 将原始消息体转换为 UserRegistrationCommand。
// 所有不满足约束的字段都会出现在返回的列表中 (不是只返回第一个)；列表非空时命令不可用。
func DecodeUserRegistration(raw json.RawMessage) (UserRegistrationCommand, []FieldViolation) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return UserRegistrationCommand{}, []FieldViolation{{Field: "payload", Message: "must be a JSON object"}}
	}

	var (
		cmd        UserRegistrationCommand
		violations []FieldViolation
	)

	email, v := stringField(fields, "email")
	switch {
	case v != nil:
		violations = append(violations, *v)
	case fieldValidator.Var(email, "email") != nil:
		violations = append(violations, FieldViolation{Field: "email", Message: "must be an email"})
	default:
		cmd.Email = email
	}

	nickname, v := stringField(fields, "nickname")
	if v != nil {
		violations = append(violations, *v)
	} else {
		cmd.Nickname = nickname
	}

	return cmd, violations
}

func stringField(fields map[string]json.RawMessage, name string) (string, *FieldViolation) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", &FieldViolation{Field: name, Message: "is required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &FieldViolation{Field: name, Message: "must be a string"}
	}
	// 原样返回，不做裁剪：带空白的邮箱应当校验失败
	return s, nil
}
