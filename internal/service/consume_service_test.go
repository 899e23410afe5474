package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"consumesystem/internal/config"
	"consumesystem/internal/model"
	"consumesystem/internal/repository"
)

// ---------------------------------------------------------------------------
// 内存版存储实现
// 用来在没有数据库的情况下验证引擎本身的编排逻辑，
// 扣款/补偿原语的语义和 repository 的 gorm 实现保持一致
// ---------------------------------------------------------------------------

type debitEntry struct {
	accountID int64
	amount    int64
}

type memAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*model.Account // key: personID
	debits   map[string]debitEntry    // key: 扣款幂等令牌
}

func newMemAccounts(accs ...*model.Account) *memAccounts {
	m := &memAccounts{
		accounts: make(map[int64]*model.Account),
		debits:   make(map[string]debitEntry),
	}
	for _, a := range accs {
		cp := *a
		m.accounts[a.PersonID] = &cp
	}
	return m
}

func (m *memAccounts) GetByPersonID(_ context.Context, personID int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[personID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) findByID(accountID int64) *model.Account {
	for _, a := range m.accounts {
		if a.ID == accountID {
			return a
		}
	}
	return nil
}

func (m *memAccounts) DebitBalance(_ context.Context, accountID int64, amount int64, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.debits[token]; ok {
		// 令牌已生效，幂等返回
		return true, nil
	}
	a := m.findByID(accountID)
	if a == nil {
		return false, repository.ErrAccountNotFound
	}
	if a.Status != model.AccountStatusActive || a.Balance < amount {
		return false, nil
	}
	a.Balance -= amount
	m.debits[token] = debitEntry{accountID: accountID, amount: amount}
	return true, nil
}

func (m *memAccounts) CompensateDebit(_ context.Context, accountID int64, amount int64, orderNo string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.debits[orderNo]
	if !ok {
		return false, nil
	}
	delete(m.debits, orderNo)
	a := m.findByID(entry.accountID)
	if a == nil {
		return false, repository.ErrAccountNotFound
	}
	a.Balance += amount
	return true, nil
}

func (m *memAccounts) balance(personID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[personID].Balance
}

// ---

type memRecords struct {
	mu            sync.Mutex
	byOrderNo     map[string]*model.ConsumeRecord
	nextID        int64
	insertErr     error // 注入流水落库故障
	insertZero    bool  // 注入"写入0行"故障
	suppressFinds int   // 前 N 次查询假装查不到，用来复现并发首提的唯一索引竞争
}

func newMemRecords() *memRecords {
	return &memRecords{byOrderNo: make(map[string]*model.ConsumeRecord)}
}

func (m *memRecords) FindByOrderNo(_ context.Context, orderNo string) (*model.ConsumeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suppressFinds > 0 {
		m.suppressFinds--
		return nil, nil
	}
	r, ok := m.byOrderNo[orderNo]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) Insert(_ context.Context, record *model.ConsumeRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	if m.insertZero {
		return 0, nil
	}
	if _, ok := m.byOrderNo[record.OrderNo]; ok {
		return 0, repository.ErrDuplicateOrderNo
	}
	m.nextID++
	cp := *record
	cp.ID = m.nextID
	m.byOrderNo[record.OrderNo] = &cp
	return 1, nil
}

func (m *memRecords) sumForPerson(personID int64) int64 {
	var total int64
	for _, r := range m.byOrderNo {
		if r.PersonID == personID && r.Status == model.RecordStatusSuccess {
			total += r.Amount
		}
	}
	return total
}

func (m *memRecords) SumToday(_ context.Context, personID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumForPerson(personID), nil
}

func (m *memRecords) SumThisMonth(_ context.Context, personID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumForPerson(personID), nil
}

func (m *memRecords) ListByPersonID(_ context.Context, personID int64, page, pageSize int) ([]*model.ConsumeRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*model.ConsumeRecord
	for _, r := range m.byOrderNo {
		if r.PersonID == personID {
			cp := *r
			records = append(records, &cp)
		}
	}
	return records, int64(len(records)), nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byOrderNo)
}

// ---

type memOutbox struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (m *memOutbox) Create(_ context.Context, msg *model.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// ---

// memLockFactory 进程内互斥锁，按账户维度，语义对齐 Redis 消费锁
type memLockFactory struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newMemLockFactory() *memLockFactory {
	return &memLockFactory{locks: make(map[int64]*sync.Mutex)}
}

func (f *memLockFactory) forAccount(accountID int64) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[accountID] = l
	}
	return l
}

type memLock struct {
	mu *sync.Mutex
}

func (l *memLock) Lock(_ context.Context, _ time.Duration, _ int) error {
	l.mu.Lock()
	return nil
}

func (l *memLock) Unlock(_ context.Context) error {
	l.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// 测试装配
// ---------------------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{ConsumeResult: "consume_result"},
		},
		Business: config.BusinessConfig{
			MaxRetryCount:         3,
			CompensateScanMinutes: 5,
		},
	}
}

func testAccount() *model.Account {
	return &model.Account{
		ID:           1,
		PersonID:     100,
		Balance:      100000, // 1000.00 元
		SingleLimit:  50000,  // 500.00 元
		DailyLimit:   200000,
		MonthlyLimit: 2000000,
		Status:       model.AccountStatusActive,
	}
}

func newTestService(accounts *memAccounts, records *memRecords) (*ConsumeService, *memOutbox) {
	outbox := &memOutbox{}
	lockFactory := newMemLockFactory()
	svc := newConsumeService(accounts, records, outbox, testConfig(),
		func(accountID int64, _ string) AccountLock {
			return &memLock{mu: lockFactory.forAccount(accountID)}
		})
	return svc, outbox
}

func testRequest(orderNo string, amount int64) *ConsumeRequest {
	return &ConsumeRequest{
		OrderNo:         orderNo,
		PersonID:        100,
		AccountID:       1,
		Amount:          amount,
		ConsumptionMode: model.ConsumeModeFree,
		PayMethod:       model.PayMethodCard,
		DeviceID:        7,
		DeviceNo:        "POS-007",
		RegionID:        3,
		Source:          "pos",
	}
}

// ---------------------------------------------------------------------------
// ProcessConsume
// ---------------------------------------------------------------------------

func TestProcessConsumeSuccess(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	svc, outbox := newTestService(accounts, records)

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}

	if !result.Success {
		t.Fatalf("want success, got %+v", result)
	}
	if result.ActualAmount != 10000 {
		t.Errorf("actual amount = %d, want 10000", result.ActualAmount)
	}
	if result.OrderNo != "ORD-1" {
		t.Errorf("order no = %s, want ORD-1", result.OrderNo)
	}
	if result.RecordNo == "" {
		t.Error("record no is empty")
	}
	if got := accounts.balance(100); got != 90000 {
		t.Errorf("balance = %d, want 90000", got)
	}

	record, _ := records.FindByOrderNo(context.Background(), "ORD-1")
	if record == nil {
		t.Fatal("consume record not written")
	}
	if record.BalanceBefore != 100000 || record.BalanceAfter != 90000 {
		t.Errorf("balance snapshot = %d/%d, want 100000/90000", record.BalanceBefore, record.BalanceAfter)
	}
	if record.Status != model.RecordStatusSuccess {
		t.Errorf("record status = %s, want SUCCESS", record.Status)
	}

	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	if len(outbox.messages) != 1 {
		t.Errorf("outbox messages = %d, want 1", len(outbox.messages))
	}
}

func TestProcessConsumeInvalidParams(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	tests := []struct {
		name   string
		mutate func(*ConsumeRequest)
	}{
		{"空订单号", func(r *ConsumeRequest) { r.OrderNo = "" }},
		{"人员ID为0", func(r *ConsumeRequest) { r.PersonID = 0 }},
		{"账户ID为0", func(r *ConsumeRequest) { r.AccountID = 0 }},
		{"金额为0", func(r *ConsumeRequest) { r.Amount = 0 }},
		{"金额为负", func(r *ConsumeRequest) { r.Amount = -100 }},
		{"消费模式为空", func(r *ConsumeRequest) { r.ConsumptionMode = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest("ORD-BAD", 100)
			tt.mutate(req)

			result, err := svc.ProcessConsume(context.Background(), req)
			if err != nil {
				t.Fatalf("ProcessConsume: %v", err)
			}
			if result.Success {
				t.Fatal("want rejection")
			}
			if result.ErrorCode != ErrCodeInvalidParam {
				t.Errorf("error code = %s, want INVALID_PARAM", result.ErrorCode)
			}
			// 非法请求不允许碰账户
			if got := accounts.balance(100); got != 100000 {
				t.Errorf("balance = %d, want untouched 100000", got)
			}
		})
	}
}

func TestProcessConsumeAccountNotFound(t *testing.T) {
	svc, _ := newTestService(newMemAccounts(), newMemRecords())

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 100))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeAccountNotFound {
		t.Fatalf("want ACCOUNT_NOT_FOUND, got %+v", result)
	}
	if result.Message != "账户不存在" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestProcessConsumeFrozenAccount(t *testing.T) {
	account := testAccount()
	account.Status = model.AccountStatusFrozen
	accounts := newMemAccounts(account)
	svc, _ := newTestService(accounts, newMemRecords())

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 100))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeAccountStatus {
		t.Fatalf("want ACCOUNT_STATUS_INVALID, got %+v", result)
	}
	if got := accounts.balance(100); got != 100000 {
		t.Errorf("balance = %d, want untouched 100000", got)
	}
}

func TestProcessConsumeInsufficientBalance(t *testing.T) {
	account := testAccount()
	account.Balance = 5000
	account.SingleLimit = 1000000
	accounts := newMemAccounts(account)
	svc, _ := newTestService(accounts, newMemRecords())

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeInsufficientBalance {
		t.Fatalf("want INSUFFICIENT_BALANCE, got %+v", result)
	}
	if got := accounts.balance(100); got != 5000 {
		t.Errorf("balance = %d, want untouched 5000", got)
	}
}

func TestProcessConsumeSingleLimitExceeded(t *testing.T) {
	account := testAccount()
	account.SingleLimit = 5000 // 50.00 元
	accounts := newMemAccounts(account)
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeLimitExceeded {
		t.Fatalf("want LIMIT_EXCEEDED, got %+v", result)
	}
	if got := accounts.balance(100); got != 100000 {
		t.Errorf("balance = %d, want untouched 100000", got)
	}
	if records.count() != 0 {
		t.Error("rejected request must not write a record")
	}
}

func TestProcessConsumeDailyLimitExceeded(t *testing.T) {
	account := testAccount()
	account.DailyLimit = 30000
	accounts := newMemAccounts(account)
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	// 当日已消费 25000，再来 10000 会越过 30000
	if _, err := svc.ProcessConsume(context.Background(), testRequest("ORD-PRE", 25000)); err != nil {
		t.Fatalf("seed consume: %v", err)
	}

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeLimitExceeded {
		t.Fatalf("want LIMIT_EXCEEDED, got %+v", result)
	}
	if got := accounts.balance(100); got != 75000 {
		t.Errorf("balance = %d, want 75000", got)
	}
}

func TestProcessConsumeMonthlyLimitExceeded(t *testing.T) {
	account := testAccount()
	account.DailyLimit = 2000000
	account.MonthlyLimit = 30000
	accounts := newMemAccounts(account)
	svc, _ := newTestService(accounts, newMemRecords())

	if _, err := svc.ProcessConsume(context.Background(), testRequest("ORD-PRE", 25000)); err != nil {
		t.Fatalf("seed consume: %v", err)
	}

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeLimitExceeded {
		t.Fatalf("want LIMIT_EXCEEDED, got %+v", result)
	}
}

func TestProcessConsumeIdempotentRepeat(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	first, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !first.Success {
		t.Fatalf("first consume failed: %+v", first)
	}

	// 同一订单号重复提交任意次，只扣一次款，返回同一条流水
	for i := 0; i < 3; i++ {
		repeat, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
		if err != nil {
			t.Fatalf("repeat consume: %v", err)
		}
		if !repeat.Success {
			t.Fatalf("repeat consume failed: %+v", repeat)
		}
		if repeat.RecordNo != first.RecordNo {
			t.Errorf("record no = %s, want %s", repeat.RecordNo, first.RecordNo)
		}
		if repeat.ActualAmount != first.ActualAmount {
			t.Errorf("actual amount = %d, want %d", repeat.ActualAmount, first.ActualAmount)
		}
	}

	if got := accounts.balance(100); got != 90000 {
		t.Errorf("balance = %d, want 90000 (debited exactly once)", got)
	}
	if records.count() != 1 {
		t.Errorf("record count = %d, want 1", records.count())
	}
}

func TestProcessConsumeAccountPersonMismatch(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	svc, _ := newTestService(accounts, newMemRecords())

	req := testRequest("ORD-1", 100)
	req.AccountID = 99

	result, err := svc.ProcessConsume(context.Background(), req)
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeInvalidParam {
		t.Fatalf("want INVALID_PARAM, got %+v", result)
	}
}

// ---------------------------------------------------------------------------
// 补偿路径
// ---------------------------------------------------------------------------

func TestProcessConsumeCompensatesOnInsertFailure(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	records.insertErr = errors.New("数据库连接中断")
	svc, _ := newTestService(accounts, records)

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success {
		t.Fatal("want failure when record insert fails")
	}
	if result.ErrorCode != ErrCodeRecordWriteFailed {
		t.Errorf("error code = %s, want RECORD_WRITE_FAILED", result.ErrorCode)
	}

	// 净效果为零：扣掉的钱已退回，没有留下流水
	if got := accounts.balance(100); got != 100000 {
		t.Errorf("balance = %d, want restored 100000", got)
	}
	if records.count() != 0 {
		t.Error("no record may exist after compensation")
	}

	// 故障恢复后同一订单号重试，应当正常扣款成功
	records.mu.Lock()
	records.insertErr = nil
	records.mu.Unlock()

	retry, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("retry consume: %v", err)
	}
	if !retry.Success {
		t.Fatalf("retry should succeed: %+v", retry)
	}
	if got := accounts.balance(100); got != 90000 {
		t.Errorf("balance = %d, want 90000 after retry", got)
	}
}

func TestProcessConsumeCompensatesOnZeroRows(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	records.insertZero = true
	svc, _ := newTestService(accounts, records)

	result, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("ProcessConsume: %v", err)
	}
	if result.Success || result.ErrorCode != ErrCodeRecordWriteFailed {
		t.Fatalf("want RECORD_WRITE_FAILED, got %+v", result)
	}
	if got := accounts.balance(100); got != 100000 {
		t.Errorf("balance = %d, want restored 100000", got)
	}
}

func TestProcessConsumeDuplicateInsertRace(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	first, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil || !first.Success {
		t.Fatalf("first consume: result=%+v err=%v", first, err)
	}

	// 复现并发首次提交：幂等检查两次都没看到流水，
	// 扣款因令牌已生效而空转，Insert 撞唯一索引后按已处理收敛
	records.mu.Lock()
	records.suppressFinds = 2
	records.mu.Unlock()

	loser, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil {
		t.Fatalf("racing consume: %v", err)
	}
	if !loser.Success {
		t.Fatalf("racing consume should converge to success: %+v", loser)
	}
	if loser.RecordNo != first.RecordNo {
		t.Errorf("record no = %s, want winner's %s", loser.RecordNo, first.RecordNo)
	}
	if got := accounts.balance(100); got != 90000 {
		t.Errorf("balance = %d, want 90000 (single net debit)", got)
	}
}

// ---------------------------------------------------------------------------
// 并发
// ---------------------------------------------------------------------------

func TestProcessConsumeConcurrentDistinctOrders(t *testing.T) {
	account := testAccount()
	account.Balance = 100000
	account.DailyLimit = 10000000
	account.MonthlyLimit = 10000000
	accounts := newMemAccounts(account)
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	const n = 20
	const amount = 10000 // 只有 10 笔付得起

	var wg sync.WaitGroup
	results := make([]*ConsumeResult, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ProcessConsume(context.Background(),
				testRequest(fmt.Sprintf("ORD-%d", i), amount))
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("consume %d: %v", i, errs[i])
		}
		if results[i].Success {
			succeeded++
			continue
		}
		if results[i].ErrorCode == ErrCodeInsufficientBalance {
			insufficient++
		} else {
			t.Errorf("consume %d failed with %s, want INSUFFICIENT_BALANCE", i, results[i].ErrorCode)
		}
	}

	if succeeded != 10 {
		t.Errorf("succeeded = %d, want 10", succeeded)
	}
	if insufficient != 10 {
		t.Errorf("insufficient = %d, want 10", insufficient)
	}
	if got := accounts.balance(100); got != 0 {
		t.Errorf("final balance = %d, want 0", got)
	}
	if records.count() != 10 {
		t.Errorf("record count = %d, want 10", records.count())
	}
}

func TestProcessConsumeConcurrentSameOrder(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*ConsumeResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.ProcessConsume(context.Background(), testRequest("ORD-SAME", 10000))
			if err != nil {
				t.Errorf("consume %d: %v", i, err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	var recordNo string
	for i, r := range results {
		if r == nil {
			continue
		}
		if !r.Success {
			t.Errorf("consume %d failed: %+v", i, r)
			continue
		}
		if recordNo == "" {
			recordNo = r.RecordNo
		} else if r.RecordNo != recordNo {
			t.Errorf("consume %d record no = %s, want %s", i, r.RecordNo, recordNo)
		}
	}

	if got := accounts.balance(100); got != 90000 {
		t.Errorf("balance = %d, want 90000 (debited exactly once)", got)
	}
	if records.count() != 1 {
		t.Errorf("record count = %d, want 1", records.count())
	}
}

// ---------------------------------------------------------------------------
// 查询与前置校验
// ---------------------------------------------------------------------------

func TestQueryConsumeResult(t *testing.T) {
	accounts := newMemAccounts(testAccount())
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	done, err := svc.ProcessConsume(context.Background(), testRequest("ORD-1", 10000))
	if err != nil || !done.Success {
		t.Fatalf("consume: result=%+v err=%v", done, err)
	}

	result, err := svc.QueryConsumeResult(context.Background(), "ORD-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !result.Success {
		t.Fatalf("want success, got %+v", result)
	}
	if result.ActualAmount != 10000 {
		t.Errorf("actual amount = %d, want 10000", result.ActualAmount)
	}
	if result.RecordNo != done.RecordNo {
		t.Errorf("record no = %s, want %s", result.RecordNo, done.RecordNo)
	}

	// 查询是纯读路径，余额不变
	if got := accounts.balance(100); got != 90000 {
		t.Errorf("balance = %d, want 90000", got)
	}

	empty, err := svc.QueryConsumeResult(context.Background(), "")
	if err != nil {
		t.Fatalf("query empty: %v", err)
	}
	if empty.Success || empty.ErrorCode != ErrCodeInvalidParam {
		t.Fatalf("want INVALID_PARAM, got %+v", empty)
	}

	missing, err := svc.QueryConsumeResult(context.Background(), "ORD-NOPE")
	if err != nil {
		t.Fatalf("query missing: %v", err)
	}
	if missing.Success || missing.ErrorCode != ErrCodeNotFound {
		t.Fatalf("want NOT_FOUND, got %+v", missing)
	}
}

func TestCheckConsumePermission(t *testing.T) {
	active := testAccount()
	frozen := &model.Account{ID: 2, PersonID: 200, Status: model.AccountStatusFrozen}
	accounts := newMemAccounts(active, frozen)
	svc, _ := newTestService(accounts, newMemRecords())

	tests := []struct {
		name     string
		personID int64
		want     bool
	}{
		{"正常账户", 100, true},
		{"冻结账户", 200, false},
		{"账户不存在", 999, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.CheckConsumePermission(context.Background(), tt.personID, 7, 3)
			if err != nil {
				t.Fatalf("CheckConsumePermission: %v", err)
			}
			if got != tt.want {
				t.Errorf("allowed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateConsumeLimit(t *testing.T) {
	account := testAccount()
	account.DailyLimit = 30000
	accounts := newMemAccounts(account)
	records := newMemRecords()
	svc, _ := newTestService(accounts, records)

	if _, err := svc.ProcessConsume(context.Background(), testRequest("ORD-PRE", 25000)); err != nil {
		t.Fatalf("seed consume: %v", err)
	}

	ok, err := svc.ValidateConsumeLimit(context.Background(), 100, 5000)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Error("5000 within remaining daily limit, want true")
	}

	ok, err = svc.ValidateConsumeLimit(context.Background(), 100, 5001)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Error("5001 crosses daily limit, want false")
	}

	ok, err = svc.ValidateConsumeLimit(context.Background(), 999, 100)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Error("missing account, want false")
	}

	ok, err = svc.ValidateConsumeLimit(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Error("non-positive amount, want false")
	}
}
