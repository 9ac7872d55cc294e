package sqlite

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// queries runs every record operation on one borrowed connection.
type queries struct {
	conn *sqlite.Conn
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

func columnDecimal(stmt *sqlite.Stmt, column int) (decimal.Decimal, error) {
	text := stmt.ColumnText(column)
	if text == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %q: %w", text, err)
	}
	return value, nil
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	size := stmt.ColumnLen(column)
	if size == 0 {
		return nil
	}
	blob := make([]byte, size)
	stmt.ColumnBytes(column, blob)
	return blob
}

func isConstraint(err error) bool {
	return sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint
}

func (q *queries) exists(query string, args ...any) (bool, error) {
	found := false
	err := sqlitex.Execute(q.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

func (q *queries) requireRequest(id int64) error {
	found, err := q.exists("SELECT 1 FROM account_modification_requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite store: load request %d: %w", id, err)
	}
	if !found {
		return fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	return nil
}

const identityColumns = "account, name, first_name, last_name, email_address, address_line_one, " +
	"address_line_two, address_line_three, city, province, country, photo_id, user_notes"

func scanIdentity(stmt *sqlite.Stmt) domain.IndexedAccountIdentity {
	return domain.IndexedAccountIdentity{
		Account: domain.MakeAccount(uint32(stmt.ColumnInt64(0)), stmt.ColumnText(1)),
		Identity: domain.AccountIdentity{
			FirstName:        stmt.ColumnText(2),
			LastName:         stmt.ColumnText(3),
			EmailAddress:     stmt.ColumnText(4),
			AddressLineOne:   stmt.ColumnText(5),
			AddressLineTwo:   stmt.ColumnText(6),
			AddressLineThree: stmt.ColumnText(7),
			City:             stmt.ColumnText(8),
			Province:         stmt.ColumnText(9),
			Country:          stmt.ColumnText(10),
			PhotoID:          columnBlob(stmt, 11),
			UserNotes:        stmt.ColumnText(12),
		},
	}
}

func (q *queries) loadIdentities(where string, args ...any) ([]domain.IndexedAccountIdentity, error) {
	identities := make([]domain.IndexedAccountIdentity, 0)
	err := sqlitex.Execute(q.conn, "SELECT "+identityColumns+" FROM account_identities"+where+" ORDER BY account", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			identities = append(identities, scanIdentity(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load account identities: %w", err)
	}
	return identities, nil
}

func (q *queries) LoadAllAccountIdentities(ctx context.Context) ([]domain.IndexedAccountIdentity, error) {
	return q.loadIdentities("")
}

func (q *queries) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	identities, err := q.loadIdentities(" WHERE account = ?", int64(account.ID))
	if err != nil || len(identities) == 0 {
		return domain.AccountIdentity{}, err
	}
	return identities[0].Identity, nil
}

func (q *queries) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	var photo any
	if len(identity.PhotoID) > 0 {
		photo = identity.PhotoID
	}
	err := sqlitex.Execute(q.conn, "INSERT OR REPLACE INTO account_identities ("+identityColumns+
		") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{
			int64(account.ID), account.Name,
			identity.FirstName, identity.LastName, identity.EmailAddress,
			identity.AddressLineOne, identity.AddressLineTwo, identity.AddressLineThree,
			identity.City, identity.Province, identity.Country,
			photo, identity.UserNotes,
		},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: store account identity %d: %w", account.ID, err)
	}
	return nil
}

func riskParameterArgs(parameters domain.RiskParameters) []any {
	return []any{
		parameters.Currency,
		parameters.BuyingPower.String(),
		int64(parameters.AllowedState.Type),
		nanos(parameters.AllowedState.Expiry),
		parameters.NetLoss.String(),
		int64(parameters.TransitionTime),
	}
}

// scanRiskParameters reads the six risk parameter columns starting at
// column first.
func scanRiskParameters(stmt *sqlite.Stmt, first int) (domain.RiskParameters, error) {
	buyingPower, err := columnDecimal(stmt, first+1)
	if err != nil {
		return domain.RiskParameters{}, err
	}
	netLoss, err := columnDecimal(stmt, first+4)
	if err != nil {
		return domain.RiskParameters{}, err
	}
	return domain.RiskParameters{
		Currency:    stmt.ColumnText(first),
		BuyingPower: buyingPower,
		AllowedState: domain.RiskState{
			Type:   domain.RiskStateType(stmt.ColumnInt64(first + 2)),
			Expiry: fromNanos(stmt.ColumnInt64(first + 3)),
		},
		NetLoss:        netLoss,
		TransitionTime: time.Duration(stmt.ColumnInt64(first + 5)),
	}, nil
}

const riskParameterColumns = "currency, buying_power, allowed_state, allowed_state_expiry, net_loss, transition_time"

func (q *queries) loadRiskParameters(where string, args ...any) ([]domain.IndexedRiskParameters, error) {
	result := make([]domain.IndexedRiskParameters, 0)
	err := sqlitex.Execute(q.conn, "SELECT account, name, "+riskParameterColumns+" FROM risk_parameters"+where+" ORDER BY account", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			parameters, err := scanRiskParameters(stmt, 2)
			if err != nil {
				return err
			}
			result = append(result, domain.IndexedRiskParameters{
				Account:    domain.MakeAccount(uint32(stmt.ColumnInt64(0)), stmt.ColumnText(1)),
				Parameters: parameters,
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load risk parameters: %w", err)
	}
	return result, nil
}

func (q *queries) LoadAllRiskParameters(ctx context.Context) ([]domain.IndexedRiskParameters, error) {
	return q.loadRiskParameters("")
}

func (q *queries) LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (domain.RiskParameters, error) {
	result, err := q.loadRiskParameters(" WHERE account = ?", int64(account.ID))
	if err != nil || len(result) == 0 {
		return domain.RiskParameters{}, err
	}
	return result[0].Parameters, nil
}

func (q *queries) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	args := append([]any{int64(account.ID), account.Name}, riskParameterArgs(parameters)...)
	err := sqlitex.Execute(q.conn, "INSERT OR REPLACE INTO risk_parameters (account, name, "+riskParameterColumns+
		") VALUES (?, ?, ?, ?, ?, ?, ?, ?)", &sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("sqlite store: store risk parameters %d: %w", account.ID, err)
	}
	return nil
}

func (q *queries) loadRiskStates(where string, args ...any) ([]domain.IndexedRiskState, error) {
	result := make([]domain.IndexedRiskState, 0)
	err := sqlitex.Execute(q.conn, "SELECT account, name, state, expiry FROM risk_states"+where+" ORDER BY account", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			result = append(result, domain.IndexedRiskState{
				Account: domain.MakeAccount(uint32(stmt.ColumnInt64(0)), stmt.ColumnText(1)),
				State: domain.RiskState{
					Type:   domain.RiskStateType(stmt.ColumnInt64(2)),
					Expiry: fromNanos(stmt.ColumnInt64(3)),
				},
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load risk states: %w", err)
	}
	return result, nil
}

func (q *queries) LoadAllRiskStates(ctx context.Context) ([]domain.IndexedRiskState, error) {
	return q.loadRiskStates("")
}

func (q *queries) LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (domain.RiskState, error) {
	result, err := q.loadRiskStates(" WHERE account = ?", int64(account.ID))
	if err != nil || len(result) == 0 {
		return domain.RiskState{}, err
	}
	return result[0].State, nil
}

func (q *queries) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, state domain.RiskState) error {
	err := sqlitex.Execute(q.conn, "INSERT OR REPLACE INTO risk_states (account, name, state, expiry) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{int64(account.ID), account.Name, int64(state.Type), nanos(state.Expiry)},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: store risk state %d: %w", account.ID, err)
	}
	return nil
}

func (q *queries) LoadAccountModificationRequest(ctx context.Context, id int64) (domain.AccountModificationRequest, error) {
	var request domain.AccountModificationRequest
	found := false
	err := sqlitex.Execute(q.conn, "SELECT id, type, account, account_name, submission_account, submission_name, timestamp "+
		"FROM account_modification_requests WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			request = domain.AccountModificationRequest{
				ID:         stmt.ColumnInt64(0),
				Type:       domain.RequestType(stmt.ColumnInt64(1)),
				Account:    domain.MakeAccount(uint32(stmt.ColumnInt64(2)), stmt.ColumnText(3)),
				Submission: domain.MakeAccount(uint32(stmt.ColumnInt64(4)), stmt.ColumnText(5)),
				Timestamp:  fromNanos(stmt.ColumnInt64(6)),
			}
			return nil
		},
	})
	if err != nil {
		return request, fmt.Errorf("sqlite store: load request %d: %w", id, err)
	}
	if !found {
		return request, fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	return request, nil
}

func (q *queries) loadIds(query string, args ...any) ([]int64, error) {
	ids := make([]int64, 0)
	err := sqlitex.Execute(q.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load ids: %w", err)
	}
	return ids, nil
}

func (q *queries) LoadAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return q.loadIds("SELECT id FROM account_modification_requests WHERE account = ? AND id > ? ORDER BY id LIMIT ?",
		int64(account.ID), startId, repository.ClampCount(maxCount))
}

func (q *queries) LoadAccountModificationRequestIdsForAccounts(ctx context.Context, accounts []domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	if len(accounts) == 0 {
		return []int64{}, nil
	}
	placeholders := make([]string, 0, len(accounts))
	args := make([]any, 0, len(accounts)+2)
	for _, account := range accounts {
		placeholders = append(placeholders, "?")
		args = append(args, int64(account.ID))
	}
	args = append(args, startId, repository.ClampCount(maxCount))
	return q.loadIds("SELECT id FROM account_modification_requests WHERE account IN ("+
		strings.Join(placeholders, ", ")+") AND id > ? ORDER BY id LIMIT ?", args...)
}

func (q *queries) LoadSubmittedAccountModificationRequestIds(ctx context.Context, submitter domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return q.loadIds("SELECT id FROM account_modification_requests WHERE submission_account = ? AND id > ? ORDER BY id LIMIT ?",
		int64(submitter.ID), startId, repository.ClampCount(maxCount))
}

func (q *queries) LoadAllAccountModificationRequestIds(ctx context.Context, startId int64, maxCount int) ([]int64, error) {
	return q.loadIds("SELECT id FROM account_modification_requests WHERE id > ? ORDER BY id LIMIT ?",
		startId, repository.ClampCount(maxCount))
}

func (q *queries) loadMax(query string) (int64, error) {
	var last int64
	err := sqlitex.Execute(q.conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			last = stmt.ColumnInt64(0)
			return nil
		},
	})
	return last, err
}

func (q *queries) LoadLastAccountModificationRequestId(ctx context.Context) (int64, error) {
	last, err := q.loadMax("SELECT COALESCE(MAX(id), 0) FROM account_modification_requests")
	if err != nil {
		return 0, fmt.Errorf("sqlite store: load last request id: %w", err)
	}
	return last, nil
}

func (q *queries) StoreAccountModificationRequest(ctx context.Context, request domain.AccountModificationRequest) error {
	err := sqlitex.Execute(q.conn, "INSERT INTO account_modification_requests "+
		"(id, type, account, account_name, submission_account, submission_name, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{
				request.ID, int64(request.Type),
				int64(request.Account.ID), request.Account.Name,
				int64(request.Submission.ID), request.Submission.Name,
				nanos(request.Timestamp),
			},
		})
	if isConstraint(err) {
		return fmt.Errorf("%w: request %d", repository.ErrDuplicate, request.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: store request %d: %w", request.ID, err)
	}
	return nil
}

func (q *queries) LoadEntitlementModification(ctx context.Context, id int64) (domain.EntitlementModification, error) {
	modification := domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{}}
	err := sqlitex.Execute(q.conn, "SELECT entitlement, name FROM entitlement_modifications WHERE id = ? ORDER BY position", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			modification.Entitlements = append(modification.Entitlements,
				domain.MakeDirectory(uint32(stmt.ColumnInt64(0)), stmt.ColumnText(1)))
			return nil
		},
	})
	if err != nil {
		return modification, fmt.Errorf("sqlite store: load entitlement modification %d: %w", id, err)
	}
	return modification, nil
}

func (q *queries) StoreEntitlementModification(ctx context.Context, id int64, modification domain.EntitlementModification) error {
	if err := q.requireRequest(id); err != nil {
		return err
	}
	for position, entitlement := range modification.Entitlements {
		err := sqlitex.Execute(q.conn, "INSERT INTO entitlement_modifications (id, position, entitlement, name) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{id, position, int64(entitlement.ID), entitlement.Name},
		})
		if err != nil {
			return fmt.Errorf("sqlite store: store entitlement modification %d: %w", id, err)
		}
	}
	return nil
}

func (q *queries) LoadRiskModification(ctx context.Context, id int64) (domain.RiskModification, error) {
	var modification domain.RiskModification
	err := sqlitex.Execute(q.conn, "SELECT "+riskParameterColumns+" FROM risk_modifications WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			parameters, err := scanRiskParameters(stmt, 0)
			modification.Parameters = parameters
			return err
		},
	})
	if err != nil {
		return modification, fmt.Errorf("sqlite store: load risk modification %d: %w", id, err)
	}
	return modification, nil
}

func (q *queries) StoreRiskModification(ctx context.Context, id int64, modification domain.RiskModification) error {
	if err := q.requireRequest(id); err != nil {
		return err
	}
	args := append([]any{id}, riskParameterArgs(modification.Parameters)...)
	err := sqlitex.Execute(q.conn, "INSERT INTO risk_modifications (id, "+riskParameterColumns+
		") VALUES (?, ?, ?, ?, ?, ?, ?)", &sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("sqlite store: store risk modification %d: %w", id, err)
	}
	return nil
}

func (q *queries) loadUpdates(query string, id int64) ([]domain.RequestUpdate, error) {
	updates := make([]domain.RequestUpdate, 0)
	err := sqlitex.Execute(q.conn, query, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			updates = append(updates, domain.RequestUpdate{
				Status:         domain.RequestStatus(stmt.ColumnInt64(0)),
				Account:        domain.MakeAccount(uint32(stmt.ColumnInt64(1)), stmt.ColumnText(2)),
				SequenceNumber: stmt.ColumnInt(3),
				Timestamp:      fromNanos(stmt.ColumnInt64(4)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load updates of request %d: %w", id, err)
	}
	return updates, nil
}

const updateColumns = "status, account, account_name, sequence_number, timestamp"

func (q *queries) LoadAccountModificationRequestStatus(ctx context.Context, id int64) (domain.RequestUpdate, error) {
	updates, err := q.loadUpdates("SELECT "+updateColumns+" FROM account_modification_request_updates "+
		"WHERE id = ? ORDER BY sequence_number DESC LIMIT 1", id)
	if err != nil {
		return domain.RequestUpdate{}, err
	}
	if len(updates) == 0 {
		return domain.RequestUpdate{Status: domain.StatusNone}, nil
	}
	return updates[0], nil
}

func (q *queries) LoadAccountModificationRequestUpdates(ctx context.Context, id int64) ([]domain.RequestUpdate, error) {
	return q.loadUpdates("SELECT "+updateColumns+" FROM account_modification_request_updates "+
		"WHERE id = ? ORDER BY sequence_number", id)
}

func (q *queries) StoreAccountModificationRequestUpdate(ctx context.Context, id int64, update domain.RequestUpdate) error {
	if err := q.requireRequest(id); err != nil {
		return err
	}
	updates, err := q.loadUpdates("SELECT "+updateColumns+" FROM account_modification_request_updates "+
		"WHERE id = ? ORDER BY sequence_number DESC LIMIT 1", id)
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
	err = sqlitex.Execute(q.conn, "INSERT INTO account_modification_request_updates (id, "+updateColumns+
		") VALUES (?, ?, ?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{
			id, int64(update.Status), int64(update.Account.ID), update.Account.Name,
			update.SequenceNumber, nanos(update.Timestamp),
		},
	})
	if isConstraint(err) {
		return fmt.Errorf("%w: request %d", repository.ErrSequenceConflict, id)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: store update of request %d: %w", id, err)
	}
	return nil
}

func (q *queries) LoadLastMessageId(ctx context.Context) (int64, error) {
	last, err := q.loadMax("SELECT COALESCE(MAX(id), 0) FROM messages")
	if err != nil {
		return 0, fmt.Errorf("sqlite store: load last message id: %w", err)
	}
	return last, nil
}

func (q *queries) LoadMessage(ctx context.Context, id int64) (domain.Message, error) {
	var message domain.Message
	err := sqlitex.Execute(q.conn, "SELECT id, account, account_name, timestamp FROM messages WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			message.ID = stmt.ColumnInt64(0)
			message.Account = domain.MakeAccount(uint32(stmt.ColumnInt64(1)), stmt.ColumnText(2))
			message.Timestamp = fromNanos(stmt.ColumnInt64(3))
			return nil
		},
	})
	if err != nil {
		return message, fmt.Errorf("sqlite store: load message %d: %w", id, err)
	}
	if message.ID == 0 {
		return message, nil
	}
	err = sqlitex.Execute(q.conn, "SELECT content_type, message FROM message_bodies WHERE id = ? ORDER BY position", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			message.Bodies = append(message.Bodies, domain.MessageBody{
				ContentType: stmt.ColumnText(0),
				Message:     stmt.ColumnText(1),
			})
			return nil
		},
	})
	if err != nil {
		return message, fmt.Errorf("sqlite store: load bodies of message %d: %w", id, err)
	}
	return message.Normalize(), nil
}

func (q *queries) LoadMessageIds(ctx context.Context, requestId int64) ([]int64, error) {
	return q.loadIds("SELECT message_id FROM account_modification_request_messages WHERE request_id = ? ORDER BY entry", requestId)
}

func (q *queries) StoreMessage(ctx context.Context, message domain.Message) error {
	message = message.Normalize()
	err := sqlitex.Execute(q.conn, "INSERT INTO messages (id, account, account_name, timestamp) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{message.ID, int64(message.Account.ID), message.Account.Name, nanos(message.Timestamp)},
	})
	if isConstraint(err) {
		return fmt.Errorf("%w: message %d", repository.ErrDuplicate, message.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: store message %d: %w", message.ID, err)
	}
	for position, body := range message.Bodies {
		err := sqlitex.Execute(q.conn, "INSERT INTO message_bodies (id, position, content_type, message) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{message.ID, position, body.ContentType, body.Message},
		})
		if err != nil {
			return fmt.Errorf("sqlite store: store body of message %d: %w", message.ID, err)
		}
	}
	return nil
}

func (q *queries) StoreAccountModificationRequestMessage(ctx context.Context, id int64, message domain.Message) error {
	if err := q.requireRequest(id); err != nil {
		return err
	}
	if err := q.StoreMessage(ctx, message); err != nil {
		return err
	}
	err := sqlitex.Execute(q.conn, "INSERT INTO account_modification_request_messages (request_id, message_id) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{id, message.ID},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: attach message %d to request %d: %w", message.ID, id, err)
	}
	return nil
}
