package adminclient

import (
	"admin_service/internal/domain"
	"admin_service/pkg/rpc"
	"context"
	"fmt"
)

func (c *Client) LoadAccountModificationRequest(ctx context.Context, id int64) (domain.AccountModificationRequest, error) {
	request, err := rpc.Invoke[domain.AccountModificationRequest](ctx, c.conn, MethodLoadAccountModificationRequest, IdRequest{ID: id})
	if err != nil {
		return request, fmt.Errorf("load account modification request %d: %w", id, err)
	}
	return request, nil
}

// LoadAccountModificationRequestIds returns ids of requests targeting
// account that are greater than startId, or all of them for -1.
func (c *Client) LoadAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return c.loadIds(ctx, MethodLoadAccountModificationRequestIds, account, startId, maxCount)
}

// LoadManagedAccountModificationRequestIds returns ids of requests
// targeting any account account may read.
func (c *Client) LoadManagedAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return c.loadIds(ctx, MethodLoadManagedAccountModificationRequestIds, account, startId, maxCount)
}

// LoadSubmittedAccountModificationRequestIds returns ids of requests
// account submitted.
func (c *Client) LoadSubmittedAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return c.loadIds(ctx, MethodLoadSubmittedAccountModificationRequestIds, account, startId, maxCount)
}

func (c *Client) loadIds(ctx context.Context, method string, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	request := RequestIdsRequest{Account: account, StartID: startId, MaxCount: maxCount}
	ids, err := rpc.Invoke[[]int64](ctx, c.conn, method, request)
	if err != nil {
		return nil, fmt.Errorf("%s %d from %d: %w", method, account.ID, startId, err)
	}
	return ids, nil
}

func (c *Client) LoadEntitlementModification(ctx context.Context, id int64) (domain.EntitlementModification, error) {
	modification, err := rpc.Invoke[domain.EntitlementModification](ctx, c.conn, MethodLoadEntitlementModification, IdRequest{ID: id})
	if err != nil {
		return modification, fmt.Errorf("load entitlement modification %d: %w", id, err)
	}
	return modification, nil
}

func (c *Client) SubmitEntitlementModificationRequest(ctx context.Context, account domain.DirectoryEntry,
	modification domain.EntitlementModification, comment domain.Message) (domain.AccountModificationRequest, error) {
	request := SubmitEntitlementModificationRequest{Account: account, Modification: modification, Comment: comment}
	submitted, err := rpc.Invoke[domain.AccountModificationRequest](ctx, c.conn, MethodSubmitEntitlementModificationRequest, request)
	if err != nil {
		return submitted, fmt.Errorf("submit entitlement modification request %d: %w", account.ID, err)
	}
	return submitted, nil
}

func (c *Client) LoadRiskModification(ctx context.Context, id int64) (domain.RiskModification, error) {
	modification, err := rpc.Invoke[domain.RiskModification](ctx, c.conn, MethodLoadRiskModification, IdRequest{ID: id})
	if err != nil {
		return modification, fmt.Errorf("load risk modification %d: %w", id, err)
	}
	return modification, nil
}

func (c *Client) SubmitRiskModificationRequest(ctx context.Context, account domain.DirectoryEntry,
	modification domain.RiskModification, comment domain.Message) (domain.AccountModificationRequest, error) {
	request := SubmitRiskModificationRequest{Account: account, Modification: modification, Comment: comment}
	submitted, err := rpc.Invoke[domain.AccountModificationRequest](ctx, c.conn, MethodSubmitRiskModificationRequest, request)
	if err != nil {
		return submitted, fmt.Errorf("submit risk modification request %d: %w", account.ID, err)
	}
	return submitted, nil
}

func (c *Client) LoadAccountModificationRequestStatus(ctx context.Context, id int64) (domain.RequestUpdate, error) {
	update, err := rpc.Invoke[domain.RequestUpdate](ctx, c.conn, MethodLoadAccountModificationRequestStatus, IdRequest{ID: id})
	if err != nil {
		return update, fmt.Errorf("load account modification request status %d: %w", id, err)
	}
	return update, nil
}

func (c *Client) LoadAccountModificationRequestUpdates(ctx context.Context, id int64) ([]domain.RequestUpdate, error) {
	updates, err := rpc.Invoke[[]domain.RequestUpdate](ctx, c.conn, MethodLoadAccountModificationRequestUpdates, IdRequest{ID: id})
	if err != nil {
		return nil, fmt.Errorf("load account modification request updates %d: %w", id, err)
	}
	return updates, nil
}

func (c *Client) ApproveAccountModificationRequest(ctx context.Context, id int64, comment domain.Message) (domain.RequestUpdate, error) {
	update, err := rpc.Invoke[domain.RequestUpdate](ctx, c.conn, MethodApproveAccountModificationRequest, ReviewRequest{ID: id, Comment: comment})
	if err != nil {
		return update, fmt.Errorf("approve account modification request %d: %w", id, err)
	}
	return update, nil
}

func (c *Client) RejectAccountModificationRequest(ctx context.Context, id int64, comment domain.Message) (domain.RequestUpdate, error) {
	update, err := rpc.Invoke[domain.RequestUpdate](ctx, c.conn, MethodRejectAccountModificationRequest, ReviewRequest{ID: id, Comment: comment})
	if err != nil {
		return update, fmt.Errorf("reject account modification request %d: %w", id, err)
	}
	return update, nil
}

func (c *Client) LoadMessage(ctx context.Context, id int64) (domain.Message, error) {
	message, err := rpc.Invoke[domain.Message](ctx, c.conn, MethodLoadMessage, IdRequest{ID: id})
	if err != nil {
		return message, fmt.Errorf("load message %d: %w", id, err)
	}
	return message, nil
}

func (c *Client) LoadMessageIds(ctx context.Context, requestId int64) ([]int64, error) {
	ids, err := rpc.Invoke[[]int64](ctx, c.conn, MethodLoadMessageIds, IdRequest{ID: requestId})
	if err != nil {
		return nil, fmt.Errorf("load message ids %d: %w", requestId, err)
	}
	return ids, nil
}

func (c *Client) SendAccountModificationRequestMessage(ctx context.Context, id int64, message domain.Message) (domain.Message, error) {
	sent, err := rpc.Invoke[domain.Message](ctx, c.conn, MethodSendAccountModificationRequestMessage, SendMessageRequest{ID: id, Message: message})
	if err != nil {
		return sent, fmt.Errorf("send account modification request message %d: %w", id, err)
	}
	return sent, nil
}
