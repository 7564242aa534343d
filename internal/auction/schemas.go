package auction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "BidToEarn-Agent/internal/errors"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// 可选参数的默认值与上限。百分比均以基点（1/100 个百分点）表示。
const (
	DefaultDurationSeconds     = 86400
	DefaultExtensionSeconds    = 300
	DefaultBidIncrementPercent = 500
	DefaultRoyaltyPercent      = 250
	MaxRoyaltyPercent          = 1000
)

// Descriptor 描述一个可供智能体调用的动作。
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// 动作名称。
const (
	ActionCreateAuction      = "createAuction"
	ActionPlaceBid           = "placeBid"
	ActionWithdraw           = "withdraw"
	ActionCheckWithdrawable  = "checkWithdrawableAmount"
	ActionViewAuction        = "viewAuction"
	ActionViewActiveAuctions = "viewActiveAuctions"
	ActionViewUserAuctions   = "viewUserAuctions"
	ActionViewUserBids       = "viewUserBids"
)

const addressPattern = `^0x[0-9a-fA-F]{40}$`

var actionSchemas = map[string]string{
	ActionCreateAuction: `{
  "type": "object",
  "properties": {
    "minBid": {"type": "string", "description": "Minimum bid amount in ETH"},
    "duration": {"type": "integer", "minimum": 1, "description": "Duration of auction in seconds"},
    "extensionTime": {"type": "integer", "minimum": 0, "description": "Time to extend auction when bid is placed near end"},
    "bidIncrementPercentage": {"type": "integer", "minimum": 1, "maximum": 10000, "description": "Minimum percentage increase for new bids, in basis points"},
    "title": {"type": "string", "minLength": 1, "description": "Title of the NFT"},
    "description": {"type": "string", "description": "Description of the NFT"},
    "imageURI": {"type": "string", "minLength": 1, "description": "URI of the NFT image"},
    "royaltyPercentage": {"type": "integer", "minimum": 0, "maximum": 1000, "description": "Royalty in basis points (max 10%)"},
    "reservePrice": {"type": "string", "description": "Reserve price in ETH"}
  },
  "required": ["minBid", "title", "description", "imageURI", "reservePrice"],
  "additionalProperties": false
}`,
	ActionPlaceBid: `{
  "type": "object",
  "properties": {
    "tokenId": {"type": "integer", "minimum": 0, "description": "Token ID of the auction"},
    "bidAmount": {"type": "string", "description": "Bid amount in ETH"}
  },
  "required": ["tokenId", "bidAmount"],
  "additionalProperties": false
}`,
	ActionWithdraw: `{
  "type": "object",
  "additionalProperties": false
}`,
	ActionCheckWithdrawable: `{
  "type": "object",
  "additionalProperties": false
}`,
	ActionViewActiveAuctions: `{
  "type": "object",
  "additionalProperties": false
}`,
	ActionViewAuction: `{
  "type": "object",
  "properties": {
    "tokenId": {"type": "integer", "minimum": 0, "description": "Token ID of the auction"}
  },
  "required": ["tokenId"],
  "additionalProperties": false
}`,
	ActionViewUserAuctions: `{
  "type": "object",
  "properties": {
    "userAddress": {"type": "string", "pattern": "` + addressPattern + `", "description": "Address of the user"}
  },
  "required": ["userAddress"],
  "additionalProperties": false
}`,
	ActionViewUserBids: `{
  "type": "object",
  "properties": {
    "userAddress": {"type": "string", "pattern": "` + addressPattern + `", "description": "Address of the user"}
  },
  "required": ["userAddress"],
  "additionalProperties": false
}`,
}

var actionDescriptions = map[string]string{
	ActionCreateAuction:      "Create a new NFT auction",
	ActionPlaceBid:           "Place a bid on an active auction",
	ActionWithdraw:           "Withdraw available funds from previous bids",
	ActionCheckWithdrawable:  "Check how much ETH is available for withdrawal",
	ActionViewAuction:        "View details of a specific auction",
	ActionViewActiveAuctions: "View the wallet's auctions that are still active",
	ActionViewUserAuctions:   "View all auctions created by a user",
	ActionViewUserBids:       "View all auctions a user has bid on",
}

var (
	schemaOnce     sync.Once
	compiledSchema map[string]*jsonschema.Schema
	schemaCompile  error
)

// compiledSchemas 编译并缓存全部动作的参数校验器。
func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiled := make(map[string]*jsonschema.Schema, len(actionSchemas))
		for name, raw := range actionSchemas {
			var doc any
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				schemaCompile = fmt.Errorf("解析动作 %s 的 schema 失败: %w", name, err)
				return
			}
			compiler := jsonschema.NewCompiler()
			resource := name + ".schema.json"
			if err := compiler.AddResource(resource, doc); err != nil {
				schemaCompile = fmt.Errorf("注册动作 %s 的 schema 失败: %w", name, err)
				return
			}
			schema, err := compiler.Compile(resource)
			if err != nil {
				schemaCompile = fmt.Errorf("编译动作 %s 的 schema 失败: %w", name, err)
				return
			}
			compiled[name] = schema
		}
		compiledSchema = compiled
	})
	return compiledSchema, schemaCompile
}

// Catalog 返回动作目录。每次调用返回一份新的切片，顺序稳定。
func Catalog() []Descriptor {
	names := make([]string, 0, len(actionSchemas))
	for name := range actionSchemas {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, Descriptor{
			Name:        name,
			Description: actionDescriptions[name],
			Parameters:  json.RawMessage(actionSchemas[name]),
		})
	}
	return descriptors
}

// validateParams 根据动作的 schema 校验参数，失败时列出违规字段。
func validateParams(action string, params map[string]any) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "动作 schema 不可用")
	}
	schema, ok := schemas[action]
	if !ok {
		return xerrors.New(xerrors.CodeUnknownAction, fmt.Sprintf("未知的动作: %s", action))
	}

	doc := normalizeParams(params)
	if err := schema.Validate(doc); err != nil {
		var validation *jsonschema.ValidationError
		detail := err.Error()
		if ok := asValidationError(err, &validation); ok {
			if fields := violatedFields(validation); len(fields) > 0 {
				detail = strings.Join(fields, ", ")
			}
		}
		return xerrors.Wrap(xerrors.CodeInvalidParameters, err,
			fmt.Sprintf("动作 %s 参数校验失败: %s", action, detail))
	}
	return nil
}

// normalizeParams 先经过一次 JSON 往返，使数值类型与 schema 校验器一致。
func normalizeParams(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return params
	}
	return doc
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	v, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return false
	}
	*target = v
	return true
}

// violatedFields 收集校验错误涉及的字段路径。
func violatedFields(err *jsonschema.ValidationError) []string {
	seen := make(map[string]struct{})
	var fields []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e == nil {
			return
		}
		if len(e.Causes) == 0 {
			path := "/" + strings.Join(e.InstanceLocation, "/")
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				fields = append(fields, path)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	sort.Strings(fields)
	return fields
}
