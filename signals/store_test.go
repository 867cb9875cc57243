package signals

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestStoreAddValidation(t *testing.T) {
	s := NewStore()

	tests := []struct {
		name, expr string
	}{
		{"", `LONG (\w+)`},
		{"Long", ""},
		{"   ", `LONG (\w+)`},
		{"Broken", `LONG (\w+`},
		{"NoGroup", `LONG \w+`},
	}
	for _, tt := range tests {
		if _, err := s.Add(tt.name, tt.expr); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("Add(%q, %q) 期望 ErrInvalidPattern, 实际 %v", tt.name, tt.expr, err)
		}
	}
	if len(s.List()) != 0 {
		t.Errorf("无效模式不应被添加, 实际 %d 个", len(s.List()))
	}
}

func TestStoreListKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	var ids []string
	for i := 0; i < 5; i++ {
		p, err := s.Add(fmt.Sprintf("p%d", i), `(\w+) (\d+)`)
		if err != nil {
			t.Fatalf("添加模式失败: %v", err)
		}
		if !p.Active {
			t.Errorf("新模式应默认启用")
		}
		ids = append(ids, p.ID)
	}
	for i, p := range s.List() {
		if p.ID != ids[i] {
			t.Errorf("位置 %d 期望 %s, 实际 %s", i, ids[i], p.ID)
		}
	}
}

func TestStoreToggleTwiceRestores(t *testing.T) {
	s := NewStore()
	p, _ := s.Add("Long", `LONG (\w+) Entry (\d+)`)

	first, err := s.Toggle(p.ID)
	if err != nil {
		t.Fatalf("切换失败: %v", err)
	}
	if first.Active {
		t.Errorf("第一次切换后应为停用")
	}
	second, err := s.Toggle(p.ID)
	if err != nil {
		t.Fatalf("切换失败: %v", err)
	}
	if second.Active != p.Active {
		t.Errorf("两次切换后期望 %v, 实际 %v", p.Active, second.Active)
	}
}

func TestStoreUnknownID(t *testing.T) {
	s := NewStore()
	if _, err := s.Toggle("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Toggle 期望 ErrNotFound, 实际 %v", err)
	}
	if err := s.Remove("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove 期望 ErrNotFound, 实际 %v", err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get 期望 ErrNotFound, 实际 %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	a, _ := s.Add("a", `(\w+) (\d+)`)
	b, _ := s.Add("b", `(\w+) (\d+)`)
	if err := s.Remove(a.ID); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	list := s.List()
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("删除后列表不符: %+v", list)
	}
}

func TestStoreReplaceIsAllOrNothing(t *testing.T) {
	s := NewStore()
	orig, _ := s.Add("orig", `(\w+) (\d+)`)

	_, err := s.Replace([]Pattern{
		{Name: "ok", Expression: `(\w+)`, Active: true},
		{Name: "bad", Expression: `(\w+`, Active: true},
	})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("期望 ErrInvalidPattern, 实际 %v", err)
	}
	if list := s.List(); len(list) != 1 || list[0].ID != orig.ID {
		t.Errorf("替换失败时不应修改现有模式: %+v", list)
	}

	out, err := s.Replace([]Pattern{
		{ID: orig.ID, Name: "renamed", Expression: `(\w+) (\d+)`, Active: false},
		{Name: "new", Expression: `(\w+)`, Active: true},
	})
	if err != nil {
		t.Fatalf("替换失败: %v", err)
	}
	if len(out) != 2 || out[0].ID != orig.ID || out[1].ID == "" {
		t.Errorf("替换结果不符: %+v", out)
	}
}

func TestStoreOnChange(t *testing.T) {
	s := NewStore()
	var got [][]Pattern
	s.OnChange(func(p []Pattern) { got = append(got, p) })

	p, _ := s.Add("a", `(\w+)`)
	s.Toggle(p.ID)
	s.Remove(p.ID)

	if len(got) != 3 {
		t.Fatalf("期望 3 次回调, 实际 %d", len(got))
	}
	if len(got[2]) != 0 {
		t.Errorf("删除后回调应为空集合")
	}
}

func TestStoreConcurrentMutationsAndReads(t *testing.T) {
	s := NewStore()
	e := NewExtractor(s, 1)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			p, err := s.Add(fmt.Sprintf("p%d", i), `LONG (\w+) Entry (\d+)`)
			if err != nil {
				t.Errorf("并发添加失败: %v", err)
				return
			}
			s.Toggle(p.ID)
			s.Toggle(p.ID)
		}(i)
		go func() {
			defer wg.Done()
			e.Extract("LONG ETH Entry 3000")
			s.List()
		}()
	}
	wg.Wait()

	if n := len(s.List()); n != 20 {
		t.Errorf("期望 20 个模式, 实际 %d", n)
	}
}
