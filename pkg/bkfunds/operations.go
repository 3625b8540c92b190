package bkfunds

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/mmretail/settlement-backend/pkg/enums"
	pkgerrors "github.com/mmretail/settlement-backend/pkg/errors"
)

var validate = validator.New()

// UploadOrder reports one order (or recharge upload) to the platform so it
// becomes splittable. Platform refusals come back as a normal result with
// Accepted=false.
func (c *Client) UploadOrder(ctx context.Context, params UploadOrderParams) (*UploadResult, error) {
	if err := validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order upload params")
	}

	biz := map[string]string{
		"node_id":           params.NodeID,
		"order_id":          params.OrderID,
		"order_amount":      strconv.FormatInt(params.OrderAmount, 10),
		"order_time":        params.OrderTime,
		"trade_type":        params.TradeType,
		"pay_type":          params.PayType,
		"merchant_id":       params.MerchantID,
		"store_id":          params.StoreID,
		"order_upload_mode": params.UploadMode,
		"account_type":      params.AccountType,
		"pay_merchant_id":   params.PayerMerchantID,
		"remark":            params.Remark,
	}
	c.log(ctx, "request", "order_upload", map[string]any{
		"order_id":    params.OrderID,
		"amount":      params.OrderAmount,
		"upload_mode": params.UploadMode,
		"merchant_id": params.MerchantID,
	})

	env, err := c.execute(ctx, MethodOrderUpload, biz)
	if err != nil {
		c.log(ctx, "error", "order_upload", map[string]any{"error": err.Error()})
		return nil, err
	}

	result := &UploadResult{
		Accepted:  env.OK(),
		RequestID: env.RequestID,
		SubCode:   env.SubCode,
		SubMsg:    env.SubMsg,
	}
	c.log(ctx, "response", "order_upload", map[string]any{
		"accepted":   result.Accepted,
		"request_id": result.RequestID,
		"sub_code":   result.SubCode,
	})
	return result, nil
}

// Apply submits one balance-pay transfer. A structured rejection is not an
// error: it is an ApplyResult with Accepted=false carrying the platform's
// payload, so the caller can write a terminal failure with full audit data.
func (c *Client) Apply(ctx context.Context, params ApplyParams) (*ApplyResult, error) {
	if err := validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pay apply params")
	}

	arrive := params.ArriveTime
	if arrive == "" {
		arrive = enums.ArriveSameDay
	}

	biz := map[string]string{
		"node_id":           params.NodeID,
		"platform_no":       params.PlatformNo,
		"total_amount":      strconv.FormatInt(params.TotalAmount, 10),
		"payer_merchant_id": params.PayerMerchantID,
		"payer_type":        string(params.PayerType),
		"payee_merchant_id": params.PayeeMerchantID,
		"payee_type":        string(params.PayeeType),
		"arrive_time":       string(arrive),
		"remark":            params.Remark,
	}
	c.log(ctx, "request", "pay_apply", map[string]any{
		"platform_no": params.PlatformNo,
		"amount":      params.TotalAmount,
		"payer":       params.PayerMerchantID,
		"payee":       params.PayeeMerchantID,
	})

	env, err := c.execute(ctx, MethodPayApply, biz)
	if err != nil {
		c.log(ctx, "error", "pay_apply", map[string]any{"error": err.Error()})
		return nil, err
	}

	result := &ApplyResult{
		Accepted:      env.OK(),
		CorrelationID: params.PlatformNo,
		RequestID:     env.RequestID,
		SubCode:       env.SubCode,
		SubMsg:        env.SubMsg,
	}
	if env.OK() && len(env.Data) > 0 {
		var data applyData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decoding pay apply data")
		}
		result.TradeNo = data.TradeNo
	}
	c.log(ctx, "response", "pay_apply", map[string]any{
		"accepted":    result.Accepted,
		"platform_no": result.CorrelationID,
		"trade_no":    result.TradeNo,
		"sub_code":    result.SubCode,
	})
	return result, nil
}

// QueryResult polls the asynchronous settlement outcome of a prior apply by
// its platform trade number.
func (c *Client) QueryResult(ctx context.Context, tradeNo string) (*PayStatus, error) {
	if tradeNo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trade no is required")
	}

	biz := map[string]string{
		"node_id":  c.nodeID,
		"trade_no": tradeNo,
	}
	c.log(ctx, "request", "pay_query", map[string]any{"trade_no": tradeNo})

	env, err := c.execute(ctx, MethodPayQuery, biz)
	if err != nil {
		c.log(ctx, "error", "pay_query", map[string]any{"error": err.Error()})
		return nil, err
	}
	if !env.OK() {
		return nil, rejectionError(MethodPayQuery, env)
	}

	var data payQueryData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decoding pay query data")
	}
	status, err := enums.ParseSettlementWireStatus(data.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "unexpected settlement status")
	}

	result := &PayStatus{
		Status:           status,
		TradeNo:          data.TradeNo,
		PlatformNo:       data.PlatformNo,
		RealAmountCents:  parseAmount(data.RealAmount),
		FinishTime:       data.FinishTime,
		StatusDesc:       data.StatusDesc,
		TotalAmountCents: parseAmount(data.Total),
	}
	c.log(ctx, "response", "pay_query", map[string]any{
		"trade_no": result.TradeNo,
		"status":   string(result.Status),
	})
	return result, nil
}

// QueryBalance fetches the balance snapshot for one merchant account.
func (c *Client) QueryBalance(ctx context.Context, params BalanceQueryParams) (*Balance, error) {
	if err := validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid balance query params")
	}

	subType := params.AccountSubType
	if subType == "" {
		subType = string(enums.AccountPayment)
	}

	biz := map[string]string{
		"sso_node_id":      params.NodeID,
		"merchant_id":      params.MerchantID,
		"account_sub_type": subType,
		"store_no":         params.StoreNo,
	}
	c.log(ctx, "request", "balance_query", map[string]any{"merchant_id": params.MerchantID})

	env, err := c.execute(ctx, MethodBalanceQuery, biz)
	if err != nil {
		c.log(ctx, "error", "balance_query", map[string]any{"error": err.Error()})
		return nil, err
	}
	if !env.OK() {
		return nil, rejectionError(MethodBalanceQuery, env)
	}

	var data balanceData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decoding balance data")
	}
	balance := &Balance{
		AvailableCents: data.AvailableBalance,
		FrozenCents:    data.FrozenBalance,
		RetainedCents:  data.AmountRetained,
		TotalCents:     data.TotalBalance,
	}
	c.log(ctx, "response", "balance_query", map[string]any{
		"merchant_id": params.MerchantID,
		"available":   balance.AvailableCents,
	})
	return balance, nil
}

// Withdraw requests a payout of settled funds. Platform refusals come back as
// a normal result with Accepted=false.
func (c *Client) Withdraw(ctx context.Context, params WithdrawParams) (*WithdrawResult, error) {
	if err := validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid withdraw params")
	}

	biz := map[string]string{
		"sso_node_id":      params.NodeID,
		"merchant_id":      params.MerchantID,
		"store_no":         params.StoreNo,
		"account_sub_type": params.AccountSubType,
		"total_amount":     strconv.FormatInt(params.TotalAmount, 10),
		"bank_card_no":     params.BankCardNo,
		"remark":           params.Remark,
	}
	c.log(ctx, "request", "withdraw", map[string]any{
		"merchant_id": params.MerchantID,
		"amount":      params.TotalAmount,
	})

	env, err := c.execute(ctx, MethodWithdraw, biz)
	if err != nil {
		c.log(ctx, "error", "withdraw", map[string]any{"error": err.Error()})
		return nil, err
	}

	result := &WithdrawResult{
		Accepted:  env.OK(),
		RequestID: env.RequestID,
		SubCode:   env.SubCode,
		SubMsg:    env.SubMsg,
	}
	if env.OK() && len(env.Data) > 0 {
		var data applyData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decoding withdraw data")
		}
		result.TradeNo = data.TradeNo
	}
	c.log(ctx, "response", "withdraw", map[string]any{
		"accepted": result.Accepted,
		"trade_no": result.TradeNo,
		"sub_code": result.SubCode,
	})
	return result, nil
}

// parseAmount tolerates the platform's habit of sending minor-unit amounts as
// strings. Unparseable values become zero rather than a hard failure because
// they ride alongside an authoritative status field.
func parseAmount(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
