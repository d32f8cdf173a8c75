package stratum

import (
	"fmt"
	"strconv"
)

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }

func typeName(v any) string { return fmt.Sprintf("%T", v) }
