package httpapi

// ErrorBody 所有错误响应的统一形状：{"error": "..."}
type ErrorBody struct {
	Error string `json:"error"`
}

// SuccessBody DELETE 成功响应
type SuccessBody struct {
	Success bool `json:"success"`
}

func Fail(message string) ErrorBody {
	return ErrorBody{Error: message}
}

func Ok() SuccessBody {
	return SuccessBody{Success: true}
}
