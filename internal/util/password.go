package util

import "golang.org/x/crypto/bcrypt"

// dummyHash 用户不存在时用于比较，耗时与密码错误相同
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("armt-dummy-password"), bcrypt.DefaultCost)

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword 校验密码，hash 为空时与 dummyHash 比较且必然失败
func CheckPassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
