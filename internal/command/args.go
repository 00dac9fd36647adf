package command

import (
	"fmt"
	"strconv"
)

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q 不是正整数", ErrInvalidCommand, s)
	}
	return n, nil
}

func nonNegativeInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q 不是非负整数", ErrInvalidCommand, s)
	}
	return n, nil
}
