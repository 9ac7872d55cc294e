package postgres

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type queries struct {
	db dbtx
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func parseDecimal(text string) (decimal.Decimal, error) {
	if text == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %q: %w", text, err)
	}
	return value, nil
}

func (q *queries) requireRequest(ctx context.Context, id int64, lock bool) error {
	query := "SELECT id FROM account_modification_requests WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	var found int64
	err := q.db.QueryRow(ctx, query, id).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("postgres store: load request %d: %w", id, err)
	}
	return nil
}

const identityColumns = "account, name, first_name, last_name, email_address, address_line_one, " +
	"address_line_two, address_line_three, city, province, country, photo_id, user_notes"

func (q *queries) loadIdentities(ctx context.Context, where string, args ...any) ([]domain.IndexedAccountIdentity, error) {
	rows, err := q.db.Query(ctx, "SELECT "+identityColumns+" FROM account_identities"+where+" ORDER BY account", args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load account identities: %w", err)
	}
	defer rows.Close()

	identities := make([]domain.IndexedAccountIdentity, 0)
	for rows.Next() {
		var (
			account int64
			name    string
			record  domain.IndexedAccountIdentity
		)
		identity := &record.Identity
		if err := rows.Scan(&account, &name, &identity.FirstName, &identity.LastName, &identity.EmailAddress,
			&identity.AddressLineOne, &identity.AddressLineTwo, &identity.AddressLineThree,
			&identity.City, &identity.Province, &identity.Country, &identity.PhotoID, &identity.UserNotes); err != nil {
			return nil, fmt.Errorf("postgres store: scan account identity: %w", err)
		}
		record.Account = domain.MakeAccount(uint32(account), name)
		identities = append(identities, record)
	}
	return identities, rows.Err()
}

func (q *queries) LoadAllAccountIdentities(ctx context.Context) ([]domain.IndexedAccountIdentity, error) {
	return q.loadIdentities(ctx, "")
}

func (q *queries) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	identities, err := q.loadIdentities(ctx, " WHERE account = $1", int64(account.ID))
	if err != nil || len(identities) == 0 {
		return domain.AccountIdentity{}, err
	}
	return identities[0].Identity, nil
}

func (q *queries) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	var photo []byte
	if len(identity.PhotoID) > 0 {
		photo = identity.PhotoID
	}
	_, err := q.db.Exec(ctx, `INSERT INTO account_identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (account) DO UPDATE SET
			name = EXCLUDED.name,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email_address = EXCLUDED.email_address,
			address_line_one = EXCLUDED.address_line_one,
			address_line_two = EXCLUDED.address_line_two,
			address_line_three = EXCLUDED.address_line_three,
			city = EXCLUDED.city,
			province = EXCLUDED.province,
			country = EXCLUDED.country,
			photo_id = EXCLUDED.photo_id,
			user_notes = EXCLUDED.user_notes`,
		int64(account.ID), account.Name,
		identity.FirstName, identity.LastName, identity.EmailAddress,
		identity.AddressLineOne, identity.AddressLineTwo, identity.AddressLineThree,
		identity.City, identity.Province, identity.Country,
		photo, identity.UserNotes)
	if err != nil {
		return fmt.Errorf("postgres store: store account identity %d: %w", account.ID, err)
	}
	return nil
}

const riskParameterColumns = "currency, buying_power, allowed_state, allowed_state_expiry, net_loss, transition_time"

type riskParameterRow struct {
	currency       string
	buyingPower    string
	allowedState   int
	expiry         int64
	netLoss        string
	transitionTime int64
}

func (r *riskParameterRow) targets() []any {
	return []any{&r.currency, &r.buyingPower, &r.allowedState, &r.expiry, &r.netLoss, &r.transitionTime}
}

func (r *riskParameterRow) parameters() (domain.RiskParameters, error) {
	buyingPower, err := parseDecimal(r.buyingPower)
	if err != nil {
		return domain.RiskParameters{}, err
	}
	netLoss, err := parseDecimal(r.netLoss)
	if err != nil {
		return domain.RiskParameters{}, err
	}
	return domain.RiskParameters{
		Currency:    r.currency,
		BuyingPower: buyingPower,
		AllowedState: domain.RiskState{
			Type:   domain.RiskStateType(r.allowedState),
			Expiry: fromNanos(r.expiry),
		},
		NetLoss:        netLoss,
		TransitionTime: time.Duration(r.transitionTime),
	}, nil
}

func riskParameterArgs(parameters domain.RiskParameters) []any {
	return []any{
		parameters.Currency,
		parameters.BuyingPower.String(),
		int(parameters.AllowedState.Type),
		nanos(parameters.AllowedState.Expiry),
		parameters.NetLoss.String(),
		int64(parameters.TransitionTime),
	}
}

func (q *queries) loadRiskParameters(ctx context.Context, where string, args ...any) ([]domain.IndexedRiskParameters, error) {
	rows, err := q.db.Query(ctx, "SELECT account, name, "+riskParameterColumns+" FROM risk_parameters"+where+" ORDER BY account", args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load risk parameters: %w", err)
	}
	defer rows.Close()

	result := make([]domain.IndexedRiskParameters, 0)
	for rows.Next() {
		var (
			account int64
			name    string
			row     riskParameterRow
		)
		if err := rows.Scan(append([]any{&account, &name}, row.targets()...)...); err != nil {
			return nil, fmt.Errorf("postgres store: scan risk parameters: %w", err)
		}
		parameters, err := row.parameters()
		if err != nil {
			return nil, err
		}
		result = append(result, domain.IndexedRiskParameters{
			Account:    domain.MakeAccount(uint32(account), name),
			Parameters: parameters,
		})
	}
	return result, rows.Err()
}

func (q *queries) LoadAllRiskParameters(ctx context.Context) ([]domain.IndexedRiskParameters, error) {
	return q.loadRiskParameters(ctx, "")
}

func (q *queries) LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (domain.RiskParameters, error) {
	result, err := q.loadRiskParameters(ctx, " WHERE account = $1", int64(account.ID))
	if err != nil || len(result) == 0 {
		return domain.RiskParameters{}, err
	}
	return result[0].Parameters, nil
}

func (q *queries) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	args := append([]any{int64(account.ID), account.Name}, riskParameterArgs(parameters)...)
	_, err := q.db.Exec(ctx, `INSERT INTO risk_parameters (account, name, `+riskParameterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account) DO UPDATE SET
			name = EXCLUDED.name,
			currency = EXCLUDED.currency,
			buying_power = EXCLUDED.buying_power,
			allowed_state = EXCLUDED.allowed_state,
			allowed_state_expiry = EXCLUDED.allowed_state_expiry,
			net_loss = EXCLUDED.net_loss,
			transition_time = EXCLUDED.transition_time`, args...)
	if err != nil {
		return fmt.Errorf("postgres store: store risk parameters %d: %w", account.ID, err)
	}
	return nil
}

func (q *queries) loadRiskStates(ctx context.Context, where string, args ...any) ([]domain.IndexedRiskState, error) {
	rows, err := q.db.Query(ctx, "SELECT account, name, state, expiry FROM risk_states"+where+" ORDER BY account", args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load risk states: %w", err)
	}
	defer rows.Close()

	result := make([]domain.IndexedRiskState, 0)
	for rows.Next() {
		var (
			account int64
			name    string
			state   int
			expiry  int64
		)
		if err := rows.Scan(&account, &name, &state, &expiry); err != nil {
			return nil, fmt.Errorf("postgres store: scan risk state: %w", err)
		}
		result = append(result, domain.IndexedRiskState{
			Account: domain.MakeAccount(uint32(account), name),
			State:   domain.RiskState{Type: domain.RiskStateType(state), Expiry: fromNanos(expiry)},
		})
	}
	return result, rows.Err()
}

func (q *queries) LoadAllRiskStates(ctx context.Context) ([]domain.IndexedRiskState, error) {
	return q.loadRiskStates(ctx, "")
}

func (q *queries) LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (domain.RiskState, error) {
	result, err := q.loadRiskStates(ctx, " WHERE account = $1", int64(account.ID))
	if err != nil || len(result) == 0 {
		return domain.RiskState{}, err
	}
	return result[0].State, nil
}

func (q *queries) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, state domain.RiskState) error {
	_, err := q.db.Exec(ctx, `INSERT INTO risk_states (account, name, state, expiry) VALUES ($1, $2, $3, $4)
		ON CONFLICT (account) DO UPDATE SET name = EXCLUDED.name, state = EXCLUDED.state, expiry = EXCLUDED.expiry`,
		int64(account.ID), account.Name, int(state.Type), nanos(state.Expiry))
	if err != nil {
		return fmt.Errorf("postgres store: store risk state %d: %w", account.ID, err)
	}
	return nil
}

func (q *queries) LoadAccountModificationRequest(ctx context.Context, id int64) (domain.AccountModificationRequest, error) {
	var (
		request                     domain.AccountModificationRequest
		requestType                 int
		recordedAt                  int64
		account, submission         int64
		accountName, submissionName string
	)
	err := q.db.QueryRow(ctx, `SELECT id, type, account, account_name, submission_account, submission_name, recorded_at
		FROM account_modification_requests WHERE id = $1`, id).
		Scan(&request.ID, &requestType, &account, &accountName, &submission, &submissionName, &recordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return request, fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return request, fmt.Errorf("postgres store: load request %d: %w", id, err)
	}
	request.Type = domain.RequestType(requestType)
	request.Account = domain.MakeAccount(uint32(account), accountName)
	request.Submission = domain.MakeAccount(uint32(submission), submissionName)
	request.Timestamp = fromNanos(recordedAt)
	return request, nil
}

func (q *queries) loadIds(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres store: load ids: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func (q *queries) LoadAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return q.loadIds(ctx, "SELECT id FROM account_modification_requests WHERE account = $1 AND id > $2 ORDER BY id LIMIT $3",
		int64(account.ID), startId, repository.ClampCount(maxCount))
}

func (q *queries) LoadAccountModificationRequestIdsForAccounts(ctx context.Context, accounts []domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	ids := make([]int64, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, int64(account.ID))
	}
	return q.loadIds(ctx, "SELECT id FROM account_modification_requests WHERE account = ANY($1) AND id > $2 ORDER BY id LIMIT $3",
		ids, startId, repository.ClampCount(maxCount))
}

func (q *queries) LoadSubmittedAccountModificationRequestIds(ctx context.Context, submitter domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return q.loadIds(ctx, "SELECT id FROM account_modification_requests WHERE submission_account = $1 AND id > $2 ORDER BY id LIMIT $3",
		int64(submitter.ID), startId, repository.ClampCount(maxCount))
}

func (q *queries) LoadAllAccountModificationRequestIds(ctx context.Context, startId int64, maxCount int) ([]int64, error) {
	return q.loadIds(ctx, "SELECT id FROM account_modification_requests WHERE id > $1 ORDER BY id LIMIT $2",
		startId, repository.ClampCount(maxCount))
}

func (q *queries) LoadLastAccountModificationRequestId(ctx context.Context) (int64, error) {
	var last int64
	if err := q.db.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM account_modification_requests").Scan(&last); err != nil {
		return 0, fmt.Errorf("postgres store: load last request id: %w", err)
	}
	return last, nil
}

func (q *queries) StoreAccountModificationRequest(ctx context.Context, request domain.AccountModificationRequest) error {
	_, err := q.db.Exec(ctx, `INSERT INTO account_modification_requests
		(id, type, account, account_name, submission_account, submission_name, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		request.ID, int(request.Type),
		int64(request.Account.ID), request.Account.Name,
		int64(request.Submission.ID), request.Submission.Name,
		nanos(request.Timestamp))
	if pgErrorCode(err) == pgUniqueViolation {
		return fmt.Errorf("%w: request %d", repository.ErrDuplicate, request.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres store: store request %d: %w", request.ID, err)
	}
	return nil
}

func (q *queries) LoadEntitlementModification(ctx context.Context, id int64) (domain.EntitlementModification, error) {
	modification := domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{}}
	rows, err := q.db.Query(ctx, "SELECT entitlement, name FROM entitlement_modifications WHERE id = $1 ORDER BY position", id)
	if err != nil {
		return modification, fmt.Errorf("postgres store: load entitlement modification %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entitlement int64
			name        string
		)
		if err := rows.Scan(&entitlement, &name); err != nil {
			return modification, fmt.Errorf("postgres store: scan entitlement modification %d: %w", id, err)
		}
		modification.Entitlements = append(modification.Entitlements, domain.MakeDirectory(uint32(entitlement), name))
	}
	return modification, rows.Err()
}

func (q *queries) StoreEntitlementModification(ctx context.Context, id int64, modification domain.EntitlementModification) error {
	if err := q.requireRequest(ctx, id, false); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for position, entitlement := range modification.Entitlements {
		batch.Queue("INSERT INTO entitlement_modifications (id, position, entitlement, name) VALUES ($1, $2, $3, $4)",
			id, position, int64(entitlement.ID), entitlement.Name)
	}
	return q.sendBatch(ctx, batch, fmt.Sprintf("store entitlement modification %d", id))
}

func (q *queries) sendBatch(ctx context.Context, batch *pgx.Batch, operation string) error {
	if batch.Len() == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, q.db, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres store: %s: %w", operation, err)
		}
		return nil
	})
}

func (q *queries) LoadRiskModification(ctx context.Context, id int64) (domain.RiskModification, error) {
	var row riskParameterRow
	err := q.db.QueryRow(ctx, "SELECT "+riskParameterColumns+" FROM risk_modifications WHERE id = $1", id).Scan(row.targets()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RiskModification{}, nil
	}
	if err != nil {
		return domain.RiskModification{}, fmt.Errorf("postgres store: load risk modification %d: %w", id, err)
	}
	parameters, err := row.parameters()
	return domain.RiskModification{Parameters: parameters}, err
}

func (q *queries) StoreRiskModification(ctx context.Context, id int64, modification domain.RiskModification) error {
	if err := q.requireRequest(ctx, id, false); err != nil {
		return err
	}
	args := append([]any{id}, riskParameterArgs(modification.Parameters)...)
	_, err := q.db.Exec(ctx, "INSERT INTO risk_modifications (id, "+riskParameterColumns+
		") VALUES ($1, $2, $3, $4, $5, $6, $7)", args...)
	if err != nil {
		return fmt.Errorf("postgres store: store risk modification %d: %w", id, err)
	}
	return nil
}

const updateColumns = "status, account, account_name, sequence_number, recorded_at"

func (q *queries) loadUpdates(ctx context.Context, query string, id int64) ([]domain.RequestUpdate, error) {
	rows, err := q.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load updates of request %d: %w", id, err)
	}
	defer rows.Close()

	updates := make([]domain.RequestUpdate, 0)
	for rows.Next() {
		var (
			update     domain.RequestUpdate
			status     int
			account    int64
			name       string
			recordedAt int64
		)
		if err := rows.Scan(&status, &account, &name, &update.SequenceNumber, &recordedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan update of request %d: %w", id, err)
		}
		update.Status = domain.RequestStatus(status)
		update.Account = domain.MakeAccount(uint32(account), name)
		update.Timestamp = fromNanos(recordedAt)
		updates = append(updates, update)
	}
	return updates, rows.Err()
}

func (q *queries) LoadAccountModificationRequestStatus(ctx context.Context, id int64) (domain.RequestUpdate, error) {
	updates, err := q.loadUpdates(ctx, "SELECT "+updateColumns+" FROM account_modification_request_updates "+
		"WHERE id = $1 ORDER BY sequence_number DESC LIMIT 1", id)
	if err != nil {
		return domain.RequestUpdate{}, err
	}
	if len(updates) == 0 {
		return domain.RequestUpdate{Status: domain.StatusNone}, nil
	}
	return updates[0], nil
}

func (q *queries) LoadAccountModificationRequestUpdates(ctx context.Context, id int64) ([]domain.RequestUpdate, error) {
	return q.loadUpdates(ctx, "SELECT "+updateColumns+" FROM account_modification_request_updates "+
		"WHERE id = $1 ORDER BY sequence_number", id)
}

// StoreAccountModificationRequestUpdate locks the request row so that the
// terminal and sequence checks and the insert are one step with respect to
// concurrent writers.
func (q *queries) StoreAccountModificationRequestUpdate(ctx context.Context, id int64, update domain.RequestUpdate) error {
	return pgx.BeginFunc(ctx, q.db, func(tx pgx.Tx) error {
		locked := &queries{db: tx}
		if err := locked.requireRequest(ctx, id, true); err != nil {
			return err
		}
		updates, err := locked.loadUpdates(ctx, "SELECT "+updateColumns+" FROM account_modification_request_updates "+
			"WHERE id = $1 ORDER BY sequence_number DESC LIMIT 1", id)
		if err != nil {
			return err
		}
		var last domain.RequestUpdate
		if len(updates) > 0 {
			last = updates[0]
		}
		if err := repository.CheckUpdate(last, update, len(updates) == 0); err != nil {
			return fmt.Errorf("%w: request %d", err, id)
		}
		_, err = tx.Exec(ctx, "INSERT INTO account_modification_request_updates (id, "+updateColumns+
			") VALUES ($1, $2, $3, $4, $5, $6)",
			id, int(update.Status), int64(update.Account.ID), update.Account.Name,
			update.SequenceNumber, nanos(update.Timestamp))
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: request %d", repository.ErrSequenceConflict, id)
		}
		if err != nil {
			return fmt.Errorf("postgres store: store update of request %d: %w", id, err)
		}
		return nil
	})
}

func (q *queries) LoadLastMessageId(ctx context.Context) (int64, error) {
	var last int64
	if err := q.db.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM messages").Scan(&last); err != nil {
		return 0, fmt.Errorf("postgres store: load last message id: %w", err)
	}
	return last, nil
}

func (q *queries) LoadMessage(ctx context.Context, id int64) (domain.Message, error) {
	var (
		message    domain.Message
		account    int64
		name       string
		recordedAt int64
	)
	err := q.db.QueryRow(ctx, "SELECT id, account, account_name, recorded_at FROM messages WHERE id = $1", id).
		Scan(&message.ID, &account, &name, &recordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, nil
	}
	if err != nil {
		return message, fmt.Errorf("postgres store: load message %d: %w", id, err)
	}
	message.Account = domain.MakeAccount(uint32(account), name)
	message.Timestamp = fromNanos(recordedAt)

	rows, err := q.db.Query(ctx, "SELECT content_type, message FROM message_bodies WHERE id = $1 ORDER BY position", id)
	if err != nil {
		return message, fmt.Errorf("postgres store: load bodies of message %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var body domain.MessageBody
		if err := rows.Scan(&body.ContentType, &body.Message); err != nil {
			return message, fmt.Errorf("postgres store: scan body of message %d: %w", id, err)
		}
		message.Bodies = append(message.Bodies, body)
	}
	if err := rows.Err(); err != nil {
		return message, err
	}
	return message.Normalize(), nil
}

func (q *queries) LoadMessageIds(ctx context.Context, requestId int64) ([]int64, error) {
	return q.loadIds(ctx, "SELECT message_id FROM account_modification_request_messages WHERE request_id = $1 ORDER BY entry", requestId)
}

func (q *queries) StoreMessage(ctx context.Context, message domain.Message) error {
	message = message.Normalize()
	return pgx.BeginFunc(ctx, q.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO messages (id, account, account_name, recorded_at) VALUES ($1, $2, $3, $4)",
			message.ID, int64(message.Account.ID), message.Account.Name, nanos(message.Timestamp))
		if pgErrorCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: message %d", repository.ErrDuplicate, message.ID)
		}
		if err != nil {
			return fmt.Errorf("postgres store: store message %d: %w", message.ID, err)
		}
		batch := &pgx.Batch{}
		for position, body := range message.Bodies {
			batch.Queue("INSERT INTO message_bodies (id, position, content_type, message) VALUES ($1, $2, $3, $4)",
				message.ID, position, body.ContentType, body.Message)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres store: store bodies of message %d: %w", message.ID, err)
		}
		return nil
	})
}

func (q *queries) StoreAccountModificationRequestMessage(ctx context.Context, id int64, message domain.Message) error {
	return pgx.BeginFunc(ctx, q.db, func(tx pgx.Tx) error {
		scoped := &queries{db: tx}
		if err := scoped.requireRequest(ctx, id, false); err != nil {
			return err
		}
		if err := scoped.StoreMessage(ctx, message); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO account_modification_request_messages (request_id, message_id) VALUES ($1, $2)", id, message.ID)
		if pgErrorCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("postgres store: attach message %d to request %d: %w", message.ID, id, err)
		}
		return nil
	})
}
