package dynamotest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// evalCondition evaluates a condition/key/filter expression against an item.
// nil item means the item does not exist. Supported grammar: clauses joined
// by AND, where each clause is attribute_exists(p), attribute_not_exists(p),
// "p IN (:a, :b, ...)", or "p OP :v" with OP in =, <>, <, <=, >, >=.
func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	for _, clause := range strings.Split(expr, " AND ") {
		if !evalClause(strings.TrimSpace(clause), item, names, values) {
			return false
		}
	}
	return true
}

func evalClause(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	switch {
	case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
		if item == nil {
			return true
		}
		_, ok := item[attr]
		return !ok

	case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
		if item == nil {
			return false
		}
		_, ok := item[attr]
		return ok
	}

	if idx := strings.Index(clause, " IN ("); idx >= 0 && strings.HasSuffix(clause, ")") {
		left, ok := itemValue(item, resolveName(strings.TrimSpace(clause[:idx]), names))
		if !ok {
			return false
		}
		for _, ref := range strings.Split(clause[idx+len(" IN ("):len(clause)-1], ",") {
			if avEqual(left, values[strings.TrimSpace(ref)]) {
				return true
			}
		}
		return false
	}

	for _, op := range []string{"<=", ">=", "<>", "=", "<", ">"} {
		sep := " " + op + " "
		idx := strings.Index(clause, sep)
		if idx < 0 {
			continue
		}
		left, ok := itemValue(item, resolveName(strings.TrimSpace(clause[:idx]), names))
		if !ok {
			return false
		}
		right := values[strings.TrimSpace(clause[idx+len(sep):])]
		switch op {
		case "=":
			return avEqual(left, right)
		case "<>":
			return !avEqual(left, right)
		default:
			cmp, ok := avCompare(left, right)
			if !ok {
				return false
			}
			switch op {
			case "<":
				return cmp < 0
			case "<=":
				return cmp <= 0
			case ">":
				return cmp > 0
			case ">=":
				return cmp >= 0
			}
		}
	}
	panic(fmt.Sprintf("dynamotest: unsupported condition clause %q", clause))
}

// applyUpdate applies an update expression with SET and ADD sections.
// SET supports "p = :v" and "p = p +/- :v"; ADD supports numeric counters.
func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	setPart, addPart := splitUpdate(expr)

	if setPart != "" {
		for _, assign := range strings.Split(setPart, ",") {
			parts := strings.SplitN(assign, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("dynamotest: bad SET assignment %q", assign)
			}
			attr := resolveName(strings.TrimSpace(parts[0]), names)
			rhs := strings.TrimSpace(parts[1])
			av, err := evalOperand(rhs, attr, item, names, values)
			if err != nil {
				return err
			}
			item[attr] = av
		}
	}

	if addPart != "" {
		for _, action := range strings.Split(addPart, ",") {
			fields := strings.Fields(strings.TrimSpace(action))
			if len(fields) != 2 {
				return fmt.Errorf("dynamotest: bad ADD action %q", action)
			}
			attr := resolveName(fields[0], names)
			delta, ok := avNumber(values[fields[1]])
			if !ok {
				return fmt.Errorf("dynamotest: ADD with non-numeric value %q", fields[1])
			}
			current := 0.0
			if av, ok := item[attr]; ok {
				current, _ = avNumber(av)
			}
			item[attr] = numberAV(current + delta)
		}
	}
	return nil
}

func splitUpdate(expr string) (setPart, addPart string) {
	expr = strings.TrimSpace(expr)
	addIdx := strings.Index(expr, "ADD ")
	setIdx := strings.Index(expr, "SET ")
	switch {
	case setIdx >= 0 && addIdx > setIdx:
		return strings.TrimSpace(expr[setIdx+4 : addIdx]), strings.TrimSpace(expr[addIdx+4:])
	case setIdx >= 0:
		return strings.TrimSpace(expr[setIdx+4:]), ""
	case addIdx >= 0:
		return "", strings.TrimSpace(expr[addIdx+4:])
	}
	return "", ""
}

// evalOperand handles ":v", "attr + :v" and "attr - :v" right-hand sides.
func evalOperand(rhs, _ string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	for _, op := range []string{" - ", " + "} {
		idx := strings.Index(rhs, op)
		if idx < 0 {
			continue
		}
		attr := resolveName(strings.TrimSpace(rhs[:idx]), names)
		base := 0.0
		if av, ok := item[attr]; ok {
			var numOK bool
			base, numOK = avNumber(av)
			if !numOK {
				return nil, fmt.Errorf("dynamotest: arithmetic on non-numeric attribute %q", attr)
			}
		}
		delta, ok := avNumber(values[strings.TrimSpace(rhs[idx+3:])])
		if !ok {
			return nil, fmt.Errorf("dynamotest: arithmetic with non-numeric operand in %q", rhs)
		}
		if op == " - " {
			return numberAV(base - delta), nil
		}
		return numberAV(base + delta), nil
	}
	av, ok := values[rhs]
	if !ok {
		return nil, fmt.Errorf("dynamotest: unresolved value %q", rhs)
	}
	return av, nil
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if resolved, ok := names[name]; ok {
			return resolved
		}
	}
	return name
}

func itemValue(item map[string]types.AttributeValue, attr string) (types.AttributeValue, bool) {
	if item == nil {
		return nil, false
	}
	av, ok := item[attr]
	return av, ok
}

func avEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		an, aok := avNumber(av)
		bn, bok := avNumber(bv)
		return aok && bok && an == bn
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return false
}

// avCompare orders two values: numerically when both are numbers,
// lexicographically when both are strings.
func avCompare(a, b types.AttributeValue) (int, bool) {
	if an, ok := avNumber(a); ok {
		bn, ok := avNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(*types.AttributeValueMemberS)
	if !ok {
		return 0, false
	}
	bs, ok := b.(*types.AttributeValueMemberS)
	if !ok {
		return 0, false
	}
	return strings.Compare(as.Value, bs.Value), true
}

func avNumber(av types.AttributeValue) (float64, bool) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.Value, 64)
	return f, err == nil
}

func numberAV(f float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}
