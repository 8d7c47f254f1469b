package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// LicenseKeyPrefix 许可证前缀
const LicenseKeyPrefix = "ARMT"

const (
	licenseSegments    = 3
	licenseSegmentSize = 2 // bytes, rendered as 4 hex chars
	challengeCodeLen   = 6
	linkCodeLen        = 8
	linkCodeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var licenseKeyPattern = regexp.MustCompile(`^ARMT-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}$`)

// challengeSpace 六位验证码的取值空间 10^6
var challengeSpace = big.NewInt(1_000_000)

// GenerateLicenseKey 生成 ARMT-XXXX-XXXX-XXXX 格式的许可证
func GenerateLicenseKey() (string, error) {
	segments := make([]string, 0, licenseSegments)
	buf := make([]byte, licenseSegmentSize)
	for i := 0; i < licenseSegments; i++ {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		segments = append(segments, strings.ToUpper(hex.EncodeToString(buf)))
	}
	return LicenseKeyPrefix + "-" + strings.Join(segments, "-"), nil
}

// IsValidLicenseFormat 只检查格式
func IsValidLicenseFormat(key string) bool {
	return licenseKeyPattern.MatchString(key)
}

// GenerateChallengeCode 生成六位验证码，保留前导零
func GenerateChallengeCode() (string, error) {
	n, err := rand.Int(rand.Reader, challengeSpace)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%0*d", challengeCodeLen, n.Int64()), nil
}

// GenerateLinkCode 生成8位大写字母数字的 Telegram 绑定码
func GenerateLinkCode() (string, error) {
	alphabet := big.NewInt(int64(len(linkCodeAlphabet)))
	var sb strings.Builder
	sb.Grow(linkCodeLen)
	for i := 0; i < linkCodeLen; i++ {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		sb.WriteByte(linkCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// HashDeviceID 设备ID入库前先做哈希
func HashDeviceID(deviceID string) string {
	sum := sha256.Sum256([]byte(deviceID))
	return hex.EncodeToString(sum[:])
}
