package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// memDB is an in-memory DynamoDB for the tables of one Config. It evaluates
// the condition, update, key and filter expressions the store issues. The
// path index serves a snapshot taken by syncIndex, so it lags every write
// made after the last sync, the way a global secondary index can.
type memDB struct {
	mu sync.Mutex

	cfg    Config
	keys   map[string][]string
	tables map[string]map[string]item
	index  []item

	// beforeTransact runs before a transaction is evaluated, outside the lock.
	beforeTransact func()
	// unprocessed makes that many BatchGetItem calls leave half their keys.
	unprocessed int

	errs map[string]error

	queries []*dynamodb.QueryInput
	txs     []*dynamodb.TransactWriteItemsInput
	updates []*dynamodb.UpdateItemInput
	batches int
}

func newMemDB(cfg Config) *memDB {
	cfg.validate()
	return &memDB{
		cfg: cfg,
		keys: map[string][]string{
			cfg.Table:        {attrID},
			cfg.SiblingTable: {attrSet, attrID},
		},
		tables: map[string]map[string]item{
			cfg.Table:        {},
			cfg.SiblingTable: {},
		},
		errs: make(map[string]error),
	}
}

// syncIndex lets the path index catch up with the node table.
func (m *memDB) syncIndex() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = m.index[:0]
	for _, it := range m.tables[m.cfg.Table] {
		if _, ok := it[attrShard]; ok {
			m.index = append(m.index, cloneItem(it))
		}
	}
}

// node returns the stored item of id, nil when missing.
func (m *memDB) node(id int64) item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItem(m.tables[m.cfg.Table][m.keyString(m.cfg.Table, NodeKey(id))])
}

// setNode overwrites attributes of a stored node item.
func (m *memDB) setNode(id int64, attrs item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.keyString(m.cfg.Table, NodeKey(id))
	for k, v := range attrs {
		m.tables[m.cfg.Table][key][k] = v
	}
}

func (m *memDB) hasSibling(set string, id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[m.cfg.SiblingTable][m.keyString(m.cfg.SiblingTable, SiblingKey(set, id))]
	return ok
}

func (m *memDB) siblingRows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[m.cfg.SiblingTable])
}

func (m *memDB) keyString(table string, it map[string]types.AttributeValue) string {
	parts := make([]string, 0, 2)
	for _, k := range m.keys[table] {
		parts = append(parts, scalarString(it[k]))
	}
	return strings.Join(parts, "|")
}

func (m *memDB) keyOf(table string, it item) item {
	key := make(item)
	for _, k := range m.keys[table] {
		key[k] = it[k]
	}
	return key
}

func (m *memDB) fail(op string) error {
	err := m.errs[op]
	delete(m.errs, op)
	return err
}

func (m *memDB) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetItem"); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: cloneItem(m.tables[*in.TableName][m.keyString(*in.TableName, in.Key)])}, nil
}

func (m *memDB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("PutItem"); err != nil {
		return nil, err
	}
	key := m.keyString(*in.TableName, in.Item)
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, m.tables[*in.TableName][key])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	m.tables[*in.TableName][key] = cloneItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memDB) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, in)
	if err := m.fail("UpdateItem"); err != nil {
		return nil, err
	}
	key := m.keyString(*in.TableName, in.Key)
	current := m.tables[*in.TableName][key]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	next, err := applyUpdate(*in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current, in.Key)
	if err != nil {
		return nil, err
	}
	m.tables[*in.TableName][key] = next

	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew || in.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = cloneItem(next)
	}
	return out, nil
}

func (m *memDB) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, in)
	if err := m.fail("Query"); err != nil {
		return nil, err
	}

	var source []item
	if in.IndexName != nil {
		if *in.IndexName != m.cfg.PathIndex {
			return nil, fmt.Errorf("ResourceNotFoundException: index %s", *in.IndexName)
		}
		source = m.index
	} else {
		for _, it := range m.tables[*in.TableName] {
			source = append(source, it)
		}
	}

	var items []item
	for _, it := range source {
		ok, err := evalCondition(in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			ok, err = evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
			if err != nil {
				return nil, err
			}
		}
		if ok {
			items = append(items, cloneItem(it))
		}
	}
	slices.SortFunc(items, func(a, b item) int { return int(itemID(a) - itemID(b)) })

	out := &dynamodb.QueryOutput{Count: int32(len(items))}
	if in.Select != types.SelectCount {
		out.Items = items
	}
	return out, nil
}

func (m *memDB) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if err := m.fail("BatchGetItem"); err != nil {
		return nil, err
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	for table, req := range in.RequestItems {
		if len(req.Keys) > maxBatchGetKeys {
			return nil, errors.New("ValidationException: too many keys")
		}
		keys := req.Keys
		if m.unprocessed > 0 && len(keys) > 1 {
			m.unprocessed--
			half := len(keys) / 2
			out.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: keys[half:], ConsistentRead: req.ConsistentRead}
			keys = keys[:half]
		}
		for _, key := range keys {
			if it, ok := m.tables[table][m.keyString(table, key)]; ok {
				out.Responses[table] = append(out.Responses[table], cloneItem(it))
			}
		}
	}
	return out, nil
}

func (m *memDB) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if hook := m.beforeTransact; hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, in)
	if err := m.fail("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) > maxTransactItems {
		return nil, errors.New("ValidationException: too many actions")
	}

	type write struct {
		table, key string
		next       item
	}
	seen := make(map[string]bool)
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false

	for i, action := range in.TransactItems {
		var (
			table     string
			key       item
			condition *string
			names     map[string]string
			values    map[string]types.AttributeValue
		)
		switch {
		case action.Put != nil:
			table, key = *action.Put.TableName, m.keyOf(*action.Put.TableName, action.Put.Item)
			condition, names, values = action.Put.ConditionExpression, action.Put.ExpressionAttributeNames, action.Put.ExpressionAttributeValues
		case action.Update != nil:
			table, key = *action.Update.TableName, action.Update.Key
			condition, names, values = action.Update.ConditionExpression, action.Update.ExpressionAttributeNames, action.Update.ExpressionAttributeValues
		case action.Delete != nil:
			table, key = *action.Delete.TableName, action.Delete.Key
			condition, names, values = action.Delete.ConditionExpression, action.Delete.ExpressionAttributeNames, action.Delete.ExpressionAttributeValues
		default:
			return nil, errors.New("ValidationException: unsupported action")
		}

		ks := m.keyString(table, key)
		if seen[table+"/"+ks] {
			return nil, errors.New("ValidationException: multiple operations on one item")
		}
		seen[table+"/"+ks] = true

		current := m.tables[table][ks]
		ok, err := evalCondition(condition, names, values, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			cancelled = true
			continue
		}
		reasons[i].Code = aws.String("None")

		switch {
		case action.Put != nil:
			writes = append(writes, write{table, ks, cloneItem(action.Put.Item)})
		case action.Update != nil:
			next, err := applyUpdate(*action.Update.UpdateExpression, names, values, current, key)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{table, ks, next})
		default:
			writes = append(writes, write{table, ks, nil})
		}
	}

	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.next == nil {
			delete(m.tables[w.table], w.key)
		} else {
			m.tables[w.table][w.key] = w.next
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func cloneItem(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func scalarString(v types.AttributeValue) string {
	switch v := v.(type) {
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	default:
		return "?"
	}
}

// --- expressions ---

type exprError string

func (e exprError) Error() string { return string(e) }

type exprParser struct {
	toks   []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
	item   item
}

func tokenize(s string) []string {
	var toks []string
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ':
			i++
		case strings.IndexByte("(),+-=", c) >= 0:
			toks = append(toks, string(c))
			i++
		case c == '<' || c == '>':
			if i+1 < len(s) && (s[i+1] == '=' || (c == '<' && s[i+1] == '>')) {
				toks = append(toks, s[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		default:
			j := i
			for j < len(s) && strings.IndexByte(" (),+-=<>", s[j]) < 0 {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

func (p *exprParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *exprParser) next() string {
	tok := p.peek()
	if tok == "" {
		panic(exprError("unexpected end of expression"))
	}
	p.pos++
	return tok
}

func (p *exprParser) accept(tok string) bool {
	if strings.EqualFold(p.peek(), tok) {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) expect(tok string) {
	if !p.accept(tok) {
		panic(exprError(fmt.Sprintf("expected %q at %q", tok, p.peek())))
	}
}

func (p *exprParser) name(tok string) string {
	if strings.HasPrefix(tok, "#") {
		n, ok := p.names[tok]
		if !ok {
			panic(exprError("undefined name " + tok))
		}
		return n
	}
	return tok
}

// operand resolves a value placeholder or a document path against p.item.
func (p *exprParser) operand() (types.AttributeValue, bool) {
	tok := p.next()
	if strings.HasPrefix(tok, ":") {
		v, ok := p.values[tok]
		if !ok {
			panic(exprError("undefined value " + tok))
		}
		return v, true
	}
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: p.item}
	for _, seg := range strings.Split(tok, ".") {
		m, ok := cur.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur, ok = m.Value[p.name(seg)]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (p *exprParser) or() bool {
	v := p.and()
	for p.accept("OR") {
		r := p.and()
		v = v || r
	}
	return v
}

func (p *exprParser) and() bool {
	v := p.not()
	for p.accept("AND") {
		r := p.not()
		v = v && r
	}
	return v
}

func (p *exprParser) not() bool {
	if p.accept("NOT") {
		return !p.not()
	}
	return p.primary()
}

func (p *exprParser) primary() bool {
	if p.accept("(") {
		v := p.or()
		p.expect(")")
		return v
	}

	switch fn := p.peek(); fn {
	case "attribute_exists", "attribute_not_exists":
		p.next()
		p.expect("(")
		_, ok := p.operand()
		p.expect(")")
		return ok == (fn == "attribute_exists")
	case "begins_with", "contains":
		p.next()
		p.expect("(")
		a, aok := p.operand()
		p.expect(",")
		b, _ := p.operand()
		p.expect(")")
		as, ok1 := a.(*types.AttributeValueMemberS)
		bs, ok2 := b.(*types.AttributeValueMemberS)
		if !aok || !ok1 || !ok2 {
			return false
		}
		if fn == "begins_with" {
			return strings.HasPrefix(as.Value, bs.Value)
		}
		return strings.Contains(as.Value, bs.Value)
	}

	left, lok := p.operand()
	if p.accept("IN") {
		p.expect("(")
		found := false
		for {
			v, _ := p.operand()
			if c, ok := compareValues(left, v); lok && ok && c == 0 {
				found = true
			}
			if p.accept(")") {
				return found
			}
			p.expect(",")
		}
	}
	op := p.next()
	right, rok := p.operand()
	if !lok || !rok {
		return false
	}
	c, ok := compareValues(left, right)
	if !ok {
		return op == "<>"
	}
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	panic(exprError("unknown operator " + op))
}

// value parses the right-hand side of a SET action.
func (p *exprParser) value() types.AttributeValue {
	v := p.term()
	for p.peek() == "+" || p.peek() == "-" {
		op := p.next()
		r := p.term()
		a, b := numberOf(v), numberOf(r)
		if op == "-" {
			b = -b
		}
		v = number(a + b)
	}
	return v
}

func (p *exprParser) term() types.AttributeValue {
	if p.accept("if_not_exists") {
		p.expect("(")
		v, ok := p.operand()
		p.expect(",")
		fallback, _ := p.operand()
		p.expect(")")
		if ok {
			return v
		}
		return fallback
	}
	v, ok := p.operand()
	if !ok {
		panic(exprError("The provided expression refers to an attribute that does not exist in the item"))
	}
	return v
}

func numberOf(v types.AttributeValue) int64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		panic(exprError("arithmetic on a non-number"))
	}
	i, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		panic(exprError("bad number " + n.Value))
	}
	return i
}

func compareValues(a, b types.AttributeValue) (int, bool) {
	switch a := a.(type) {
	case *types.AttributeValueMemberN:
		b, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, y := numberOf(a), numberOf(b)
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberS:
		b, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(a.Value, b.Value), true
	}
	return 0, false
}

func parseExpr(expr string, names map[string]string, values map[string]types.AttributeValue, it item, fn func(p *exprParser)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(exprError)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("ValidationException: %s in %q", e, expr)
		}
	}()
	p := &exprParser{toks: tokenize(expr), names: names, values: values, item: it}
	fn(p)
	if p.pos != len(p.toks) {
		return fmt.Errorf("ValidationException: trailing %q in %q", p.peek(), expr)
	}
	return nil
}

// evalCondition evaluates a condition, key condition or filter expression.
// A nil expression always holds.
func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	if expr == nil || *expr == "" {
		return true, nil
	}
	var ok bool
	err := parseExpr(*expr, names, values, it, func(p *exprParser) { ok = p.or() })
	return ok, err
}

// applyUpdate returns current with the SET, REMOVE and ADD actions of expr
// applied. Right-hand sides read the item as it was before the update.
func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, current, key item) (item, error) {
	next := cloneItem(current)
	if next == nil {
		next = cloneItem(key)
	}
	err := parseExpr(expr, names, values, current, func(p *exprParser) {
		for p.peek() != "" {
			clause := strings.ToUpper(p.next())
			for {
				target := p.name(p.next())
				switch clause {
				case "SET":
					p.expect("=")
					next[target] = p.value()
				case "REMOVE":
					delete(next, target)
				case "ADD":
					v, _ := p.operand()
					sum := numberOf(v)
					if cur, ok := current[target]; ok {
						sum += numberOf(cur)
					}
					next[target] = number(sum)
				default:
					panic(exprError("unknown clause " + clause))
				}
				if !p.accept(",") {
					break
				}
			}
		}
	})
	return next, err
}
