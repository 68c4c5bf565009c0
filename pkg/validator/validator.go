package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var blockchainPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// Init 在 gin 自带的 validator 上注册业务校验 tag
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		Register(v)
	}
}

// Register 注册自定义 tag，单测里可以直接作用于 validator.New()
func Register(v *validator.Validate) {
	_ = v.RegisterValidation("amount", validateAmount)
	_ = v.RegisterValidation("blockchain", validateBlockchain)
}

// amount: 正的十进制字符串 (金额统一用字符串传输，避免浮点误差)
func validateAmount(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive()
}

func validateBlockchain(fl validator.FieldLevel) bool {
	return blockchainPattern.MatchString(fl.Field().String())
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errMsgs []string
		for _, e := range validationErrors {
			field := e.Field()
			tag := e.Tag()
			param := e.Param()

			switch tag {
			case "required":
				errMsgs = append(errMsgs, fmt.Sprintf("%s is required", field))
			case "amount":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be a positive decimal string", field))
			case "blockchain":
				errMsgs = append(errMsgs, fmt.Sprintf("%s is not a valid blockchain name", field))
			case "min":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be at least %s", field, param))
			case "max":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be at most %s", field, param))
			case "oneof":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be one of [%s]", field, param))
			default:
				errMsgs = append(errMsgs, fmt.Sprintf("%s failed on %s", field, tag))
			}
		}
		return strings.Join(errMsgs, "; ")
	}
	return "invalid request parameters"
}
