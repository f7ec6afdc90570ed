package conversation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/agentchorus/types"
)

// ValidationError 表示调用方输入无效，不会发起任何 Backend 调用。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TypesError 转换为 INVALID_REQUEST
func (e *ValidationError) TypesError() *types.Error {
	return types.NewError(types.ErrInvalidRequest, e.Error()).WithHTTPStatus(http.StatusBadRequest)
}

// errBlankReply 流式模式下空白或占位回复视为失败
var errBlankReply = errors.New("empty or invalid response from AI")
