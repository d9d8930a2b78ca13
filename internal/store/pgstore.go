package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/esbo/internal/model"
	"github.com/iurnickita/esbo/internal/store/config"
)

const pgUniqueViolation = "23505"

type pgStore struct {
	database *sql.DB
}

func NewPGStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица заявок.
	// Одна строка на заявку, после решения оператора меняется только статус и оператор
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS payment_request (" +
			" id VARCHAR (64) PRIMARY KEY," +
			" kind VARCHAR (16) NOT NULL," +
			" site VARCHAR (128) NOT NULL," +
			" site_key VARCHAR (128) NOT NULL," +
			" username VARCHAR (128) NOT NULL," +
			" full_name VARCHAR (256) NOT NULL," +
			" amount NUMERIC (18, 2) NOT NULL," +
			" created_at TIMESTAMPTZ NOT NULL," +
			" ip_address VARCHAR (64) NOT NULL DEFAULT ''," +
			" status VARCHAR (16) NOT NULL," +
			" operator VARCHAR (128) NOT NULL DEFAULT ''," +
			" suspicious BOOLEAN NOT NULL DEFAULT FALSE," +
			" suspicion_reason TEXT NOT NULL DEFAULT ''," +
			" bank_name VARCHAR (128) NOT NULL DEFAULT ''," +
			" iban VARCHAR (64) NOT NULL DEFAULT ''," +
			" iban_key VARCHAR (64) NOT NULL DEFAULT ''," +
			" account_holder VARCHAR (256) NOT NULL DEFAULT ''," +
			" method_name VARCHAR (128) NOT NULL DEFAULT ''," +
			" details JSONB NOT NULL DEFAULT '[]'" +
			" );")
	if err != nil {
		return nil, err
	}

	// Не больше одной ожидающей заявки на клиента, сайт и вид заявки.
	// Проверка выполняется самой базой при вставке
	_, err = db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS payment_request_one_pending" +
			" ON payment_request (kind, site_key, username)" +
			" WHERE status = 'PENDING';")
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(
		"CREATE INDEX IF NOT EXISTS payment_request_iban" +
			" ON payment_request (iban_key, status);")
	if err != nil {
		return nil, err
	}

	// Партнерские сайты
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS site (" +
			" id VARCHAR (64) PRIMARY KEY," +
			" name VARCHAR (128) NOT NULL," +
			" name_key VARCHAR (128) NOT NULL," +
			" logo TEXT NOT NULL DEFAULT ''," +
			" investment_commission NUMERIC (6, 2) NOT NULL DEFAULT 0," +
			" withdrawal_commission NUMERIC (6, 2) NOT NULL DEFAULT 0," +
			" callback_url TEXT NOT NULL DEFAULT ''," +
			" callback_api_key TEXT NOT NULL DEFAULT ''," +
			" telegram_token TEXT NOT NULL DEFAULT ''," +
			" telegram_chat_id BIGINT NOT NULL DEFAULT 0," +
			" api_key VARCHAR (128) NOT NULL DEFAULT ''" +
			" );")
	if err != nil {
		return nil, err
	}

	// Название сайта уникально без учета регистра и пробелов по краям
	_, err = db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS site_name_key" +
			" ON site (name_key);")
	if err != nil {
		return nil, err
	}

	// сайт без ключа допустим, заданный ключ уникален
	_, err = db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS site_api_key" +
			" ON site (api_key)" +
			" WHERE api_key <> '';")
	if err != nil {
		return nil, err
	}

	// Банки для инвестиций
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS investment_bank (" +
			" id VARCHAR (64) PRIMARY KEY," +
			" name VARCHAR (128) NOT NULL," +
			" iban VARCHAR (64) UNIQUE NOT NULL," +
			" account_holder VARCHAR (256) NOT NULL," +
			" min_amount NUMERIC (18, 2) NOT NULL DEFAULT 0," +
			" max_amount NUMERIC (18, 2) NOT NULL DEFAULT 0," +
			" max_count INTEGER NOT NULL DEFAULT 0," +
			" logo TEXT NOT NULL DEFAULT ''" +
			" );")
	if err != nil {
		return nil, err
	}

	// Методы вывода
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS withdrawal_method (" +
			" id VARCHAR (64) PRIMARY KEY," +
			" name VARCHAR (128) NOT NULL," +
			" logo TEXT NOT NULL DEFAULT ''," +
			" fields JSONB NOT NULL DEFAULT '[]'" +
			" );")
	if err != nil {
		return nil, err
	}

	return &pgStore{
		database: db,
	}, nil
}

const requestColumns = "id, kind, site, username, full_name, amount, created_at, ip_address, status, operator," +
	" suspicious, suspicion_reason, bank_name, iban, account_holder, method_name, details"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (model.PaymentRequest, error) {
	var req model.PaymentRequest
	var details []byte
	err := row.Scan(&req.ID,
		&req.Kind,
		&req.Data.Site,
		&req.Data.Username,
		&req.Data.FullName,
		&req.Data.Amount,
		&req.Data.CreatedAt,
		&req.Data.IPAddress,
		&req.Data.Status,
		&req.Data.Operator,
		&req.Data.Suspicious,
		&req.Data.SuspicionReason,
		&req.Data.BankName,
		&req.Data.IBAN,
		&req.Data.AccountHolder,
		&req.Data.MethodName,
		&details)
	if err != nil {
		return model.PaymentRequest{}, err
	}
	if len(details) > 0 {
		if err = json.Unmarshal(details, &req.Data.Details); err != nil {
			return model.PaymentRequest{}, err
		}
		if len(req.Data.Details) == 0 {
			req.Data.Details = nil
		}
	}
	return req, nil
}

func scanRequests(rows *sql.Rows) ([]model.PaymentRequest, error) {
	defer rows.Close()
	var list []model.PaymentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	return list, rows.Err()
}

func (store *pgStore) RequestPost(ctx context.Context, req model.PaymentRequest) (model.PaymentRequest, error) {
	details := req.Data.Details
	if details == nil {
		details = []model.DetailField{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return model.PaymentRequest{}, err
	}

	// Запись новой заявки
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO payment_request (id, kind, site, site_key, username, full_name, amount, created_at, ip_address,"+
			" status, operator, suspicious, suspicion_reason, bank_name, iban, iban_key, account_holder, method_name, details)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11, $12, $13, $14, $15, $16, $17, $18)"+
			" RETURNING "+requestColumns,
		req.ID,
		req.Kind,
		req.Data.Site,
		model.SiteKey(req.Data.Site),
		req.Data.Username,
		req.Data.FullName,
		req.Data.Amount,
		req.Data.CreatedAt,
		req.Data.IPAddress,
		model.StatusPending,
		req.Data.Suspicious,
		req.Data.SuspicionReason,
		req.Data.BankName,
		req.Data.IBAN,
		model.IBANKey(req.Data.IBAN),
		req.Data.AccountHolder,
		req.Data.MethodName,
		detailsJSON)
	stored, err := scanRequest(row)
	if err != nil {
		// Проверка: уже есть ожидающая заявка
		if isUniqueViolation(err) {
			return model.PaymentRequest{}, ErrConflict
		}
		return model.PaymentRequest{}, err
	}
	return stored, nil
}

func (store *pgStore) RequestGet(ctx context.Context, id string) (model.PaymentRequest, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+requestColumns+
			" FROM payment_request"+
			" WHERE id = $1",
		id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PaymentRequest{}, ErrNotFound
		}
		return model.PaymentRequest{}, err
	}
	return req, nil
}

func (store *pgStore) RequestPutStatus(ctx context.Context, id string, status model.RequestStatus, operator string) (model.PaymentRequest, error) {
	if !status.Terminal() {
		return model.PaymentRequest{}, ErrInvalidTransition
	}

	// Условное обновление: выигрывает только первое решение по ожидающей заявке
	row := store.database.QueryRowContext(ctx,
		"UPDATE payment_request"+
			" SET status = $1, operator = $2"+
			" WHERE id = $3"+
			"   AND status = $4"+
			" RETURNING "+requestColumns,
		status,
		operator,
		id,
		model.StatusPending)
	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.PaymentRequest{}, err
	}

	// Заявки нет или она уже закрыта
	current, err := store.RequestGet(ctx, id)
	if err != nil {
		return model.PaymentRequest{}, err
	}
	return current, ErrInvalidTransition
}

func (store *pgStore) RequestList(ctx context.Context, filter model.RequestFilter) ([]model.PaymentRequest, error) {
	query := "SELECT " + requestColumns + " FROM payment_request WHERE 1=1"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		query += " AND kind = " + arg(filter.Kind)
	}
	if filter.Site != "" {
		query += " AND site ILIKE " + arg("%"+filter.Site+"%")
	}
	if filter.Username != "" {
		query += " AND username ILIKE " + arg("%"+filter.Username+"%")
	}
	if filter.Bank != "" {
		p := arg("%" + filter.Bank + "%")
		query += " AND ((kind = 'investment' AND bank_name ILIKE " + p + ")" +
			" OR (kind = 'withdrawal' AND method_name ILIKE " + p + "))"
	}
	if filter.Status != "" {
		query += " AND status = " + arg(filter.Status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (store *pgStore) RequestGetPending(ctx context.Context, kind model.RequestKind, username string, site string) (model.PaymentRequest, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+requestColumns+
			" FROM payment_request"+
			" WHERE kind = $1"+
			"   AND username = $2"+
			"   AND site_key = $3"+
			"   AND status = $4",
		kind,
		username,
		model.SiteKey(site),
		model.StatusPending)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PaymentRequest{}, ErrNotFound
		}
		return model.PaymentRequest{}, err
	}
	return req, nil
}

func (store *pgStore) RequestGetSimilar(ctx context.Context, username string, iban string, site string, since time.Time) (model.PaymentRequest, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+requestColumns+
			" FROM payment_request"+
			" WHERE kind = $1"+
			"   AND username = $2"+
			"   AND iban = $3"+
			"   AND site_key <> $4"+
			"   AND status = $5"+
			"   AND created_at >= $6"+
			" ORDER BY created_at DESC"+
			" LIMIT 1",
		model.KindInvestment,
		username,
		iban,
		model.SiteKey(site),
		model.StatusPending,
		since)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PaymentRequest{}, ErrNotFound
		}
		return model.PaymentRequest{}, err
	}
	return req, nil
}

func (store *pgStore) RequestListApproved(ctx context.Context, filter model.ApprovedFilter) ([]model.PaymentRequest, error) {
	query := "SELECT " + requestColumns + " FROM payment_request WHERE status = $1"
	args := []any{model.StatusApproved}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		query += " AND kind = " + arg(filter.Kind)
	}
	if filter.Site != "" {
		query += " AND site_key = " + arg(model.SiteKey(filter.Site))
	}
	if !filter.From.IsZero() {
		query += " AND created_at >= " + arg(filter.From)
	}
	if !filter.To.IsZero() {
		query += " AND created_at < " + arg(filter.To)
	}
	query += " ORDER BY created_at DESC"

	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRequests(rows)
}

func (store *pgStore) RequestSumApprovedByIBAN(ctx context.Context, iban string) (model.ApprovedStats, error) {
	var stats model.ApprovedStats
	row := store.database.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(amount), 0)"+
			" FROM payment_request"+
			" WHERE kind = $1"+
			"   AND iban_key = $2"+
			"   AND status = $3",
		model.KindInvestment,
		model.IBANKey(iban),
		model.StatusApproved)
	if err := row.Scan(&stats.Count, &stats.Total); err != nil {
		return model.ApprovedStats{}, err
	}
	return stats, nil
}

const siteColumns = "id, name, logo, investment_commission, withdrawal_commission, callback_url, callback_api_key," +
	" telegram_token, telegram_chat_id, api_key"

func scanSite(row rowScanner) (model.Site, error) {
	var site model.Site
	err := row.Scan(&site.ID,
		&site.Data.Name,
		&site.Data.Logo,
		&site.Data.InvestmentCommission,
		&site.Data.WithdrawalCommission,
		&site.Data.CallbackURL,
		&site.Data.CallbackAPIKey,
		&site.Data.TelegramToken,
		&site.Data.TelegramChatID,
		&site.Data.APIKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Site{}, ErrNotFound
		}
		return model.Site{}, err
	}
	return site, nil
}

func (store *pgStore) SitePost(ctx context.Context, site model.Site) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO site (id, name, name_key, logo, investment_commission, withdrawal_commission,"+
			" callback_url, callback_api_key, telegram_token, telegram_chat_id, api_key)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		site.ID,
		site.Data.Name,
		model.SiteKey(site.Data.Name),
		site.Data.Logo,
		site.Data.InvestmentCommission,
		site.Data.WithdrawalCommission,
		site.Data.CallbackURL,
		site.Data.CallbackAPIKey,
		site.Data.TelegramToken,
		site.Data.TelegramChatID,
		site.Data.APIKey)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (store *pgStore) SiteGet(ctx context.Context, id string) (model.Site, error) {
	return scanSite(store.database.QueryRowContext(ctx,
		"SELECT "+siteColumns+" FROM site WHERE id = $1", id))
}

func (store *pgStore) SiteGetByAPIKey(ctx context.Context, apiKey string) (model.Site, error) {
	if apiKey == "" {
		return model.Site{}, ErrNotFound
	}
	return scanSite(store.database.QueryRowContext(ctx,
		"SELECT "+siteColumns+" FROM site WHERE api_key = $1", apiKey))
}

func (store *pgStore) SiteGetByName(ctx context.Context, name string) (model.Site, error) {
	return scanSite(store.database.QueryRowContext(ctx,
		"SELECT "+siteColumns+" FROM site WHERE name_key = $1 LIMIT 1", model.SiteKey(name)))
}

func (store *pgStore) SiteList(ctx context.Context) ([]model.Site, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+siteColumns+" FROM site ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

const bankColumns = "id, name, iban, account_holder, min_amount, max_amount, max_count, logo"

func scanBank(row rowScanner) (model.InvestmentBank, error) {
	var bank model.InvestmentBank
	err := row.Scan(&bank.ID,
		&bank.Data.Name,
		&bank.Data.IBAN,
		&bank.Data.AccountHolder,
		&bank.Data.MinAmount,
		&bank.Data.MaxAmount,
		&bank.Data.MaxCount,
		&bank.Data.Logo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.InvestmentBank{}, ErrNotFound
		}
		return model.InvestmentBank{}, err
	}
	return bank, nil
}

func (store *pgStore) BankPost(ctx context.Context, bank model.InvestmentBank) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO investment_bank (id, name, iban, account_holder, min_amount, max_amount, max_count, logo)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		bank.ID,
		bank.Data.Name,
		bank.Data.IBAN,
		bank.Data.AccountHolder,
		bank.Data.MinAmount,
		bank.Data.MaxAmount,
		bank.Data.MaxCount,
		bank.Data.Logo)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (store *pgStore) BankGet(ctx context.Context, id string) (model.InvestmentBank, error) {
	return scanBank(store.database.QueryRowContext(ctx,
		"SELECT "+bankColumns+" FROM investment_bank WHERE id = $1", id))
}

func (store *pgStore) BankGetByIBAN(ctx context.Context, iban string) (model.InvestmentBank, error) {
	return scanBank(store.database.QueryRowContext(ctx,
		"SELECT "+bankColumns+" FROM investment_bank WHERE iban = $1", iban))
}

func (store *pgStore) BankList(ctx context.Context) ([]model.InvestmentBank, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+bankColumns+" FROM investment_bank ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var banks []model.InvestmentBank
	for rows.Next() {
		bank, err := scanBank(rows)
		if err != nil {
			return nil, err
		}
		banks = append(banks, bank)
	}
	return banks, rows.Err()
}

func (store *pgStore) BankPutDetails(ctx context.Context, id string, holder string, iban string) (model.InvestmentBank, error) {
	bank, err := scanBank(store.database.QueryRowContext(ctx,
		"UPDATE investment_bank"+
			" SET account_holder = $1, iban = $2"+
			" WHERE id = $3"+
			" RETURNING "+bankColumns,
		holder,
		iban,
		id))
	if err != nil && isUniqueViolation(err) {
		return model.InvestmentBank{}, ErrConflict
	}
	return bank, err
}

func scanMethod(row rowScanner) (model.WithdrawalMethod, error) {
	var method model.WithdrawalMethod
	var fields []byte
	err := row.Scan(&method.ID,
		&method.Data.Name,
		&method.Data.Logo,
		&fields)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WithdrawalMethod{}, ErrNotFound
		}
		return model.WithdrawalMethod{}, err
	}
	if len(fields) > 0 {
		if err = json.Unmarshal(fields, &method.Data.Fields); err != nil {
			return model.WithdrawalMethod{}, err
		}
	}
	return method, nil
}

func (store *pgStore) MethodPost(ctx context.Context, method model.WithdrawalMethod) error {
	fields := method.Data.Fields
	if fields == nil {
		fields = []model.FieldDescriptor{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = store.database.ExecContext(ctx,
		"INSERT INTO withdrawal_method (id, name, logo, fields)"+
			" VALUES ($1, $2, $3, $4)",
		method.ID,
		method.Data.Name,
		method.Data.Logo,
		fieldsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (store *pgStore) MethodGet(ctx context.Context, id string) (model.WithdrawalMethod, error) {
	return scanMethod(store.database.QueryRowContext(ctx,
		"SELECT id, name, logo, fields FROM withdrawal_method WHERE id = $1", id))
}

func (store *pgStore) MethodGetByName(ctx context.Context, name string) (model.WithdrawalMethod, error) {
	return scanMethod(store.database.QueryRowContext(ctx,
		"SELECT id, name, logo, fields FROM withdrawal_method WHERE name = $1 LIMIT 1", name))
}

func (store *pgStore) MethodList(ctx context.Context) ([]model.WithdrawalMethod, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, name, logo, fields FROM withdrawal_method ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var methods []model.WithdrawalMethod
	for rows.Next() {
		method, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, method)
	}
	return methods, rows.Err()
}

func (store *pgStore) Close() error {
	return store.database.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
