package model

import "regexp"

// 账户 id 会拼进存储 key 和删除账户时的扫描模式，不能含 glob 元字符或 key 分隔符 ':'
var accountIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidAccountID(id string) bool {
	return accountIDPattern.MatchString(id)
}
