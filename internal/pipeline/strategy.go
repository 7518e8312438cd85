package pipeline

import (
	"strconv"

	"github.com/mattjoyce/runway/internal/template"
)

// MaxMatrixConfigurations bounds the number of cells a strategy may expand to.
const MaxMatrixConfigurations = 256

// Context data keys of a strategy configuration.
const (
	ContextStrategy = "strategy"
	ContextMatrix   = "matrix"
	ContextParallel = "parallel"
)

// SingleConfiguration is the one cell of a job without a strategy.
func SingleConfiguration(jobName, displayName string) *StrategyResult {
	cfg := &StrategyConfiguration{Name: jobName, DisplayName: displayName}
	res := &StrategyResult{FailFast: true, MaxParallel: 1, Configurations: []*StrategyConfiguration{cfg}}
	res.addContextData()
	return res
}

// ConvertToStrategy expands a strategy into its configurations. The token
// must be free of expressions; evaluate it first. A nil or null token yields
// SingleConfiguration. ok is false when any error was recorded in ctx.
func ConvertToStrategy(ctx *template.Context, t template.Token, jobName, displayName string) (res *StrategyResult, ok bool) {
	if t == nil || t.Type() == template.TypeNull {
		return SingleConfiguration(jobName, displayName), true
	}
	before := ctx.Errors.Count()
	defer func() {
		ok = ctx.Errors.Count() == before && !ctx.Errors.Full()
	}()

	res = &StrategyResult{FailFast: true}
	m, isMapping := assertMapping(ctx, t, keyStrategy)
	if !isMapping {
		return res, false
	}

	var matrix *template.MappingToken
	parallel := 0
	for _, p := range m.Pairs {
		key, ok := assertLiteral(ctx, p.Key, "strategy key")
		if !ok {
			continue
		}
		switch key.String() {
		case keyFailFast:
			if v, ok := convertToBool(ctx, p.Value, "strategy "+keyFailFast); ok {
				res.FailFast = v
			}
		case keyMaxParallel:
			if v, ok := convertToInt(ctx, p.Value, "strategy "+keyMaxParallel, "Invalid max parallel '%s'", false, 1); ok {
				res.MaxParallel = v
			}
		case keyMatrix:
			matrix, _ = assertMapping(ctx, p.Value, keyMatrix)
		case keyParallel:
			parallel, _ = convertToInt(ctx, p.Value, keyParallel, "Invalid parallel setting '%s'. Must be an integer greater than zero.", false, 1)
		default:
			unexpectedValue(ctx, key, "strategy key")
		}
	}

	switch {
	case matrix != nil && parallel > 0:
		ctx.Errorf(m, "The strategy may not define both 'matrix' and 'parallel'")
		return res, false
	case matrix != nil:
		b := newMatrixBuilder(ctx, displayName)
		if !b.load(matrix) {
			return res, false
		}
		res.Configurations = b.build()
	case parallel > 0:
		if parallel > MaxMatrixConfigurations {
			ctx.Errorf(m, "Invalid parallel setting '%d'. Must not exceed %d.", parallel, MaxMatrixConfigurations)
			return res, false
		}
		names := NewReferenceNameBuilder()
		displayNames := NewDisplayNameBuilder(displayName)
		for i := 0; i < parallel; i++ {
			index := strconv.Itoa(i + 1)
			names.AppendSegment("parallel")
			names.AppendSegment(index)
			name, err := names.Build()
			if err != nil {
				ctx.Error(m, err)
				return res, false
			}
			displayNames.AppendSegment(index)
			cfg := &StrategyConfiguration{Name: name, DisplayName: displayNames.Build()}
			cfg.ContextData = &template.MappingToken{}
			cfg.ContextData.Add(ContextParallel, &template.StringToken{Value: strconv.Itoa(parallel)})
			res.Configurations = append(res.Configurations, cfg)
			if err := ctx.Memory.AddBytes(name + cfg.DisplayName); err != nil {
				ctx.Error(m, err)
				return res, false
			}
		}
	default:
		cfg := &StrategyConfiguration{Name: jobName, DisplayName: displayName}
		res.Configurations = []*StrategyConfiguration{cfg}
	}

	if len(res.Configurations) == 0 {
		ctx.Errorf(m, "The matrix does not produce any configurations")
		return res, false
	}
	res.addContextData()
	return res, true
}

// addContextData writes the strategy, matrix and parallel entries, in that
// order, onto every configuration.
func (r *StrategyResult) addContextData() {
	total := len(r.Configurations)
	maxParallel := r.MaxParallel
	if maxParallel <= 0 {
		maxParallel = total
	}
	for i, cfg := range r.Configurations {
		strategy := &template.MappingToken{}
		strategy.Add(keyFailFast, &template.BooleanToken{Value: r.FailFast})
		// counts are strings, as they are in the request context
		strategy.Add("job-index", &template.StringToken{Value: strconv.Itoa(i)})
		strategy.Add("job-total", &template.StringToken{Value: strconv.Itoa(total)})
		strategy.Add(keyMaxParallel, &template.StringToken{Value: strconv.Itoa(maxParallel)})

		data := &template.MappingToken{}
		data.Add(ContextStrategy, strategy)
		for _, key := range []string{ContextMatrix, ContextParallel} {
			value := template.Token(&template.NullToken{})
			if cfg.ContextData != nil {
				if v, ok := cfg.ContextData.Get(key); ok {
					value = v
				}
			}
			data.Add(key, value)
		}
		cfg.ContextData = data
	}
	if r.MaxParallel <= 0 {
		r.MaxParallel = maxParallel
	}
}

type vector struct {
	name   string
	values []template.Token
}

type matrixBuilder struct {
	ctx         *template.Context
	displayName string
	vectors     []vector
	include     []*template.MappingToken
	exclude     []*template.MappingToken
}

func newMatrixBuilder(ctx *template.Context, displayName string) *matrixBuilder {
	return &matrixBuilder{ctx: ctx, displayName: displayName}
}

func (b *matrixBuilder) load(matrix *template.MappingToken) bool {
	ok := true
	var include, exclude *template.SequenceToken
	for _, p := range matrix.Pairs {
		key, isLit := assertLiteral(b.ctx, p.Key, "matrix key")
		if !isLit {
			ok = false
			continue
		}
		switch name := key.String(); name {
		case keyInclude:
			include, _ = assertSequence(b.ctx, p.Value, "matrix includes")
		case keyExclude:
			exclude, _ = assertSequence(b.ctx, p.Value, "matrix excludes")
		default:
			seq, isSeq := assertSequence(b.ctx, p.Value, "matrix vector value")
			if !isSeq {
				ok = false
				continue
			}
			if len(seq.Items) == 0 {
				b.ctx.Errorf(seq, "Matrix vector '%s' does not contain any values", name)
				ok = false
				continue
			}
			b.vectors = append(b.vectors, vector{name: name, values: seq.Items})
		}
	}
	if len(b.vectors) == 0 {
		b.ctx.Errorf(matrix, "Matrix must define at least one vector")
		return false
	}

	if exclude != nil {
		for _, item := range exclude.Items {
			filter, isMap := assertMapping(b.ctx, item, "matrix excludes item")
			if !isMap {
				ok = false
				continue
			}
			if len(filter.Pairs) == 0 {
				b.ctx.Errorf(filter, "Matrix exclude filter must not be empty")
				ok = false
				continue
			}
			for _, fp := range filter.Pairs {
				if !b.isVector(fp.Key.String()) {
					b.ctx.Errorf(fp.Key, "Matrix exclude key '%s' does not match any key within the matrix", fp.Key.String())
					ok = false
				}
			}
			b.exclude = append(b.exclude, filter)
		}
	}
	if include != nil {
		for _, item := range include.Items {
			entry, isMap := assertMapping(b.ctx, item, "matrix includes item")
			if !isMap {
				ok = false
				continue
			}
			if len(entry.Pairs) == 0 {
				b.ctx.Errorf(entry, "Matrix include entry must not be empty")
				ok = false
				continue
			}
			b.include = append(b.include, entry)
		}
	}

	size := 1
	for _, v := range b.vectors {
		size *= len(v.values)
		if size > MaxMatrixConfigurations {
			b.ctx.Errorf(matrix, "The matrix exceeds the maximum of %d configurations", MaxMatrixConfigurations)
			return false
		}
	}
	return ok
}

func (b *matrixBuilder) isVector(name string) bool {
	for _, v := range b.vectors {
		if v.name == name {
			return true
		}
	}
	return false
}

type cell struct {
	original *template.MappingToken
	matrix   *template.MappingToken
}

func (b *matrixBuilder) build() []*StrategyConfiguration {
	size := 1
	for _, v := range b.vectors {
		size *= len(v.values)
	}

	var cells []*cell
	for index := 0; index < size; index++ {
		m := &template.MappingToken{}
		block := size
		for _, v := range b.vectors {
			block /= len(v.values)
			m.Add(v.name, v.values[(index/block)%len(v.values)].Clone(false))
		}
		if b.excluded(m) {
			continue
		}
		cells = append(cells, &cell{original: m.Clone(false).(*template.MappingToken), matrix: m})
	}

	names := NewReferenceNameBuilder()
	displayNames := NewDisplayNameBuilder(b.displayName)
	var configs []*StrategyConfiguration
	add := func(m *template.MappingToken) bool {
		for _, segment := range nameSegments(m) {
			names.AppendSegment(segment)
			displayNames.AppendSegment(segment)
		}
		name, err := names.Build()
		if err != nil {
			b.ctx.Error(m, err)
			return false
		}
		cfg := &StrategyConfiguration{Name: name, DisplayName: displayNames.Build()}
		cfg.ContextData = &template.MappingToken{}
		cfg.ContextData.Add(ContextMatrix, m)
		configs = append(configs, cfg)
		if err := b.ctx.Memory.AddBytes(name + cfg.DisplayName); err != nil {
			b.ctx.Error(m, err)
			return false
		}
		return true
	}
	for _, c := range cells {
		if !add(c.matrix) {
			return nil
		}
	}

	// Names come from the vector values; includes only extend the matrix
	// context of cells that already exist.
	for _, entry := range b.include {
		matched := false
		for _, c := range cells {
			if !b.includeMatches(entry, c.original) {
				continue
			}
			matched = true
			for _, p := range entry.Pairs {
				if !b.isVector(p.Key.String()) {
					set(c.matrix, p.Key.String(), p.Value.Clone(false))
				}
			}
		}
		if !matched {
			if len(configs) >= MaxMatrixConfigurations {
				b.ctx.Errorf(entry, "The matrix exceeds the maximum of %d configurations", MaxMatrixConfigurations)
				return nil
			}
			if !add(entry.Clone(false).(*template.MappingToken)) {
				return nil
			}
		}
	}
	return configs
}

func (b *matrixBuilder) excluded(m *template.MappingToken) bool {
	for _, filter := range b.exclude {
		if subsetMatch(filter, m) {
			return true
		}
	}
	return false
}

// includeMatches reports whether every vector key of entry equals the cell's
// original value. An entry without vector keys matches every cell.
func (b *matrixBuilder) includeMatches(entry, original *template.MappingToken) bool {
	for _, p := range entry.Pairs {
		key := p.Key.String()
		if !b.isVector(key) {
			continue
		}
		v, ok := original.Get(key)
		if !ok || !template.Equal(v, p.Value) {
			return false
		}
	}
	return true
}

// subsetMatch reports whether every pair of filter is present in m. Nested
// mappings match recursively; other values compare with template.Equal.
func subsetMatch(filter, m *template.MappingToken) bool {
	for _, p := range filter.Pairs {
		v, ok := m.Get(p.Key.String())
		if !ok {
			return false
		}
		if fm, isMap := p.Value.(*template.MappingToken); isMap {
			vm, isMap := v.(*template.MappingToken)
			if !isMap || !subsetMatch(fm, vm) {
				return false
			}
			continue
		}
		if !template.Equal(p.Value, v) {
			return false
		}
	}
	return true
}

func set(m *template.MappingToken, key string, value template.Token) {
	for i, p := range m.Pairs {
		if p.Key.String() == key {
			m.Pairs[i].Value = value
			return
		}
	}
	m.Add(key, value)
}

// nameSegments returns the scalar leaves of m depth first, skipping nulls
// and empty strings.
func nameSegments(t template.Token) []string {
	var out []string
	switch x := t.(type) {
	case *template.StringToken:
		if x.Value != "" {
			out = append(out, x.Value)
		}
	case *template.NumberToken, *template.BooleanToken:
		out = append(out, x.String())
	case *template.SequenceToken:
		for _, item := range x.Items {
			out = append(out, nameSegments(item)...)
		}
	case *template.MappingToken:
		for _, p := range x.Pairs {
			out = append(out, nameSegments(p.Value)...)
		}
	}
	return out
}
