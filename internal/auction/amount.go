package auction

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "BidToEarn-Agent/internal/errors"
)

// etherDecimals 是 ETH 与 wei 之间的小数位数。
const etherDecimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)

// ParseETH 将人类可读的十进制 ETH 字符串转换为 wei。拒绝负数、空串以及
// 超过 18 位小数的输入。
func ParseETH(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "金额不能为空")
	}
	if strings.HasPrefix(s, "-") {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, fmt.Sprintf("金额不能为负数: %s", s))
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, fmt.Sprintf("无法解析金额: %s", s))
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, fmt.Sprintf("无法解析金额: %s", s))
	}
	if len(fracPart) > etherDecimals {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, fmt.Sprintf("金额精度超过 %d 位小数: %s", etherDecimals, s))
	}

	wei := new(big.Int)
	if intPart != "" {
		if _, ok := wei.SetString(intPart, 10); !ok {
			return nil, xerrors.New(xerrors.CodeInvalidAmount, fmt.Sprintf("无法解析金额: %s", s))
		}
	}
	wei.Mul(wei, weiPerEther)

	if fracPart != "" {
		frac := new(big.Int)
		padded := fracPart + strings.Repeat("0", etherDecimals-len(fracPart))
		if _, ok := frac.SetString(padded, 10); !ok {
			return nil, xerrors.New(xerrors.CodeInvalidAmount, fmt.Sprintf("无法解析金额: %s", s))
		}
		wei.Add(wei, frac)
	}
	return wei, nil
}

// FormatWei 将 wei 转换回十进制 ETH 字符串，去掉小数部分的尾随零。
func FormatWei(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	quo := new(big.Int)
	rem := new(big.Int)
	quo.QuoRem(wei, weiPerEther, rem)

	if rem.Sign() == 0 {
		return quo.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%018s", rem.String()), "0")
	return quo.String() + "." + frac
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
