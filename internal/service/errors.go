package service

import "errors"

// Kind 是业务错误的分类，handler 据此映射 HTTP 状态码或 socket 错误消息。
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindPermission
	KindPersistence
	KindCrypto
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPermission:
		return "permission"
	case KindPersistence:
		return "persistence"
	case KindCrypto:
		return "crypto"
	}
	return "unknown"
}

// Error 是带分类的业务错误。Message 可直接返回给客户端，Err 为底层原因。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让同一分类同一消息的错误彼此匹配，哨兵错误可以直接用 errors.Is 比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrInvalidPayload   = newErr(KindValidation, "invalid parameters")
	ErrInvalidContent   = newErr(KindValidation, "message content cannot be empty")
	ErrInvalidGroupName = newErr(KindValidation, "group name is required")
	ErrNoMembers        = newErr(KindValidation, "group needs at least one member")
	ErrNoValidMembers   = newErr(KindValidation, "no valid members to add (members must be friends)")
	ErrSelfChat         = newErr(KindValidation, "cannot start a chat with yourself")
	ErrSelfFriend       = newErr(KindValidation, "cannot send a friend request to yourself")

	ErrRoomNotFound    = newErr(KindNotFound, "room not found")
	ErrUserNotFound    = newErr(KindNotFound, "user not found")
	ErrRequestNotFound = newErr(KindNotFound, "friend request not found")
	ErrMessageNotFound = newErr(KindNotFound, "message not found")

	ErrUsernameTaken   = newErr(KindConflict, "username taken")
	ErrAlreadyFriends  = newErr(KindConflict, "already friends")
	ErrRequestPending  = newErr(KindConflict, "friend request already sent")
	ErrRequestIncoming = newErr(KindConflict, "this user already sent you a friend request")
	ErrRequestHandled  = newErr(KindConflict, "friend request already handled")

	ErrNotAMember   = newErr(KindPermission, "you are not a member of this room")
	ErrNotFriends   = newErr(KindPermission, "you can only chat with friends")
	ErrUserMismatch = newErr(KindPermission, "user does not match the authenticated connection")
	ErrNotAuthor    = newErr(KindPermission, "only the author can delete a message")
)

// ErrInvalidCredentials 不归入上面的分类，handler 将其映射为 401。
var ErrInvalidCredentials = errors.New("invalid credentials")

// Validation 构造一条带自定义消息的校验错误。
func Validation(msg string) *Error {
	return newErr(KindValidation, msg)
}

// Persistence 包装存储层错误，op 描述失败的操作。
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

// Crypto 包装加解密错误。
func Crypto(op string, err error) *Error {
	return &Error{Kind: KindCrypto, Message: op, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的分类，没有时返回 0。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// PublicMessage 返回可以暴露给客户端的错误消息。存储与加密错误只返回通用文案。
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		if errors.Is(err, ErrInvalidCredentials) {
			return ErrInvalidCredentials.Error()
		}
		return "internal error"
	}
	switch e.Kind {
	case KindPersistence, KindCrypto:
		return "internal error"
	}
	return e.Message
}
