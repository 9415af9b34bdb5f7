package schema

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taggedPerson struct {
	Name     string    `json:"name" jsonschema:"required,description=Full name"`
	Age      int       `json:"age" jsonschema:"required,minimum=0,maximum=150,coerce"`
	Email    string    `json:"email,omitempty" jsonschema:"format=email"`
	Status   string    `json:"status" jsonschema:"enum=active,inactive,required"`
	Level    int       `json:"level" jsonschema:"enum=1,2,3"`
	Nick     string    `json:"nick" jsonschema:"minLength=2,maxLength=12,pattern=^[a-z]+$,example=jane"`
	Joined   time.Time `json:"joined"`
	Tags     []string  `json:"tags"`
	Address  *address  `json:"address"`
	Meta     map[string]string
	Ignored  string `json:"-"`
	internal string
}

type address struct {
	City string `json:"city" jsonschema:"required"`
}

type base struct {
	ID string `json:"id" jsonschema:"required"`
}

type withEmbedded struct {
	base
	Title string `json:"title"`
}

type node struct {
	Value    int     `json:"value"`
	Children []*node `json:"children"`
}

func TestFromType_Tags(t *testing.T) {
	d, err := For[taggedPerson]()
	require.NoError(t, err)

	assert.Equal(t, "taggedPerson", d.Name())
	assert.Equal(t, []string{"name", "age", "status"}, d.RequiredFields())

	names := make([]string, 0, d.Len())
	for _, f := range d.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"name", "age", "email", "status", "level", "nick", "joined", "tags", "address", "Meta"}, names)

	age, _ := d.Field("age")
	assert.Equal(t, TypeInteger, age.Type)
	assert.True(t, age.Coerce)
	assert.Equal(t, 150.0, *age.Maximum)

	status, _ := d.Field("status")
	assert.Equal(t, []any{"active", "inactive"}, status.Enum)

	level, _ := d.Field("level")
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, level.Enum)

	nick, _ := d.Field("nick")
	assert.Equal(t, 2, *nick.MinLength)
	assert.Equal(t, 12, *nick.MaxLength)
	assert.Equal(t, "^[a-z]+$", nick.Pattern)
	assert.Equal(t, "jane", nick.Example)

	joined, _ := d.Field("joined")
	assert.Equal(t, TypeString, joined.Type)
	assert.Equal(t, FormatDateTime, joined.Format)

	tags, _ := d.Field("tags")
	assert.Equal(t, TypeArray, tags.Type)
	assert.Equal(t, TypeString, tags.Elem.Type)

	addr, _ := d.Field("address")
	assert.Equal(t, TypeObject, addr.Type)
	require.Len(t, addr.Fields, 1)
	assert.True(t, addr.Fields[0].Required)

	meta, _ := d.Field("Meta")
	assert.Equal(t, TypeObject, meta.Type)
	assert.Empty(t, meta.Fields)
}

func TestFromType_Embedded(t *testing.T) {
	d, err := For[withEmbedded]()
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, d.RequiredFields())
	_, ok := d.Field("title")
	assert.True(t, ok)
}

func TestFromType_Recursive(t *testing.T) {
	d, err := For[node]()
	require.NoError(t, err)
	children, ok := d.Field("children")
	require.True(t, ok)
	require.NotNil(t, children.Elem)
	assert.Equal(t, TypeObject, children.Elem.Type)
	assert.Empty(t, children.Elem.Fields)
}

func TestFromType_Errors(t *testing.T) {
	_, err := FromType(nil)
	assert.Error(t, err)

	_, err = FromType(reflect.TypeOf(42))
	assert.Error(t, err)

	type withChan struct {
		C chan int `json:"c"`
	}
	_, err = For[withChan]()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported kind chan")

	type badTag struct {
		N int `json:"n" jsonschema:"minimum=abc"`
	}
	_, err = For[badTag]()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid minimum")
}

func TestSplitTagParts(t *testing.T) {
	tests := []struct {
		tag  string
		want []string
	}{
		{"required", []string{"required"}},
		{"enum=a,b,c,required", []string{"enum=a,b,c", "required"}},
		{"enum=a,b,minimum=1", []string{"enum=a,b", "minimum=1"}},
		{"description=Hello, world", []string{"description=Hello, world"}},
		{"coerce,maximum=5", []string{"coerce", "maximum=5"}},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.want, splitTagParts(tt.tag))
		})
	}
}

func TestCache_GeneratesOnceUnderConcurrency(t *testing.T) {
	c := NewCache()

	const workers = 32
	results := make([]*Descriptor, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			d, err := Of[taggedPerson](c)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), c.Generated())
	assert.Equal(t, 1, c.Len())
	for _, d := range results {
		assert.Same(t, results[0], d)
	}
}

func TestCache_PointerAndValueShareEntry(t *testing.T) {
	c := NewCache()
	a, err := c.Get(reflect.TypeOf(taggedPerson{}))
	require.NoError(t, err)
	b, err := c.Get(reflect.TypeOf(&taggedPerson{}))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int64(1), c.Generated())

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestCache_IsolatedInstances(t *testing.T) {
	c1, c2 := NewCache(), NewCache()
	_, err := Of[address](c1)
	require.NoError(t, err)
	assert.Equal(t, 1, c1.Len())
	assert.Equal(t, 0, c2.Len())
}

func TestCache_ErrorNotCached(t *testing.T) {
	c := NewCache()
	_, err := c.Get(reflect.TypeOf(""))
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestCache_SameNamedLocalTypes(t *testing.T) {
	type item struct {
		Label string `json:"label" jsonschema:"required"`
	}
	first := reflect.TypeOf(item{})
	var second reflect.Type
	{
		type item struct {
			Count int `json:"count" jsonschema:"required"`
		}
		second = reflect.TypeOf(item{})
	}
	require.Equal(t, first.String(), second.String())
	assert.NotEqual(t, typeKey(first), typeKey(second))
	assert.Equal(t, typeKey(first), typeKey(reflect.TypeOf(item{})))

	for i := 0; i < 20; i++ {
		c := NewCache()
		var a, b *Descriptor
		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			d, err := c.Get(first)
			assert.NoError(t, err)
			a = d
		}()
		go func() {
			defer wg.Done()
			<-start
			d, err := c.Get(second)
			assert.NoError(t, err)
			b = d
		}()
		close(start)
		wg.Wait()

		require.NotNil(t, a)
		require.NotNil(t, b)
		_, ok := a.Field("label")
		assert.True(t, ok)
		_, ok = b.Field("count")
		assert.True(t, ok)
		assert.Equal(t, 2, c.Len())
		assert.Equal(t, int64(2), c.Generated())
	}
}
