package errors

// 预定义的哨兵错误，配合 errors.Is 按错误码匹配。
var (
	// ErrNotConfigured 表示代币合约地址尚未配置（未部署）。
	ErrNotConfigured = New(CodeNotConfigured, "")
	// ErrConnectivity 表示无法连接到链节点。
	ErrConnectivity = New(CodeConnectivity, "")
	// ErrContractCall 表示合约调用回滚或返回值无法解码。
	ErrContractCall = New(CodeContractCall, "")
	// ErrInvalidAddress 表示地址格式非法。
	ErrInvalidAddress = New(CodeInvalidAddress, "")
	// ErrInvalidResponse 表示智能体返回值违反契约。
	ErrInvalidResponse = New(CodeInvalidResponse, "")
	// ErrResponseTooLong 表示智能体回复超出长度上限。
	ErrResponseTooLong = New(CodeResponseTooLong, "")
	// ErrTimeout 表示调用超过调用方设定的期限。
	ErrTimeout = New(CodeTimeout, "")
)
