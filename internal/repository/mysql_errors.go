package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const mysqlErrDuplicateEntry = 1062

// isDuplicateKeyError 判断是否为唯一索引冲突
// 幂等令牌和订单号都依赖唯一索引兜底，冲突是正常业务信号而不是故障
func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return false
}
