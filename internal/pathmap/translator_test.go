package pathmap

import (
	"errors"
	"testing"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

func testMappings() []model.PathMapping {
	return []model.PathMapping{
		{
			Name:              "movies",
			LogicalRoot:       "/lib/Movies",
			EngineRoot:        "/mnt/user/Movies",
			CacheRoot:         "/mnt/cache/Movies",
			ExternalCacheRoot: "/mnt/cache2/Movies",
			ArrayDirectRoot:   "/mnt/user0/Movies",
			Cacheable:         true,
			Enabled:           true,
		},
		{
			Name:        "shows",
			LogicalRoot: "/lib/Shows",
			EngineRoot:  "/mnt/user/Shows",
			CacheRoot:   "/mnt/cache/Shows",
			Cacheable:   true,
			Enabled:     true,
		},
		{
			Name:        "music",
			LogicalRoot: "/lib/Music",
			EngineRoot:  "/mnt/user/Music",
			CacheRoot:   "/mnt/cache/Music",
			Cacheable:   false,
			Enabled:     false,
		},
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		mappings []model.PathMapping
		wantErr  bool
	}{
		{"валидный набор", testMappings(), false},
		{"пустое имя", []model.PathMapping{{LogicalRoot: "/a", EngineRoot: "/b", CacheRoot: "/c"}}, true},
		{"пустой префикс", []model.PathMapping{{Name: "x", LogicalRoot: "", EngineRoot: "/b", CacheRoot: "/c"}}, true},
		{"дубликат имени", []model.PathMapping{
			{Name: "x", LogicalRoot: "/a", EngineRoot: "/b", CacheRoot: "/c"},
			{Name: "x", LogicalRoot: "/d", EngineRoot: "/e", CacheRoot: "/f"},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mappings)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(): ошибка = %v, ожидали ошибку: %v", err, tt.wantErr)
			}
		})
	}
}

func TestToEnginePath(t *testing.T) {
	tr, err := New(testMappings())
	if err != nil {
		t.Fatalf("ошибка создания транслятора: %v", err)
	}

	got, err := tr.ToEnginePath("/lib/Movies/A.mkv")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != "/mnt/user/Movies/A.mkv" {
		t.Errorf("хотели /mnt/user/Movies/A.mkv, получили %q", got)
	}
}

func TestToEnginePathUnmapped(t *testing.T) {
	tr, _ := New(testMappings())

	_, err := tr.ToEnginePath("/lib/Photos/x.jpg")
	var unmapped *model.UnmappedPathError
	if !errors.As(err, &unmapped) {
		t.Fatalf("хотели UnmappedPathError, получили %v", err)
	}
}

func TestDisabledMappingIgnored(t *testing.T) {
	tr, _ := New(testMappings())

	// Маппинг music отключён: путь не разрешается
	if _, err := tr.ToEnginePath("/lib/Music/a.flac"); err == nil {
		t.Error("отключённый маппинг не должен участвовать в трансляции")
	}
}

func TestPrefixRespectsSegmentBoundary(t *testing.T) {
	tr, _ := New(testMappings())

	// /lib/Movies не должен покрывать /lib/MoviesHD
	if _, err := tr.ToEnginePath("/lib/MoviesHD/A.mkv"); err == nil {
		t.Error("префикс не должен совпадать посреди сегмента пути")
	}
}

func TestFirstMatchWins(t *testing.T) {
	// Два пересекающихся маппинга: выигрывает объявленный первым,
	// даже если второй специфичнее.
	tr, err := New([]model.PathMapping{
		{Name: "broad", LogicalRoot: "/lib", EngineRoot: "/mnt/user", CacheRoot: "/mnt/cache", Enabled: true},
		{Name: "narrow", LogicalRoot: "/lib/Movies", EngineRoot: "/mnt/other", CacheRoot: "/mnt/othercache", Enabled: true},
	})
	if err != nil {
		t.Fatalf("ошибка создания транслятора: %v", err)
	}

	got, err := tr.ToEnginePath("/lib/Movies/A.mkv")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != "/mnt/user/Movies/A.mkv" {
		t.Errorf("должен выигрывать первый маппинг: хотели /mnt/user/Movies/A.mkv, получили %q", got)
	}
}

func TestToExternalPath(t *testing.T) {
	tr, _ := New(testMappings())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"трансляция настроена", "/mnt/cache/Movies/A.mkv", "/mnt/cache2/Movies/A.mkv"},
		{"external совпадает с cache", "/mnt/cache/Shows/s01e01.mkv", "/mnt/cache/Shows/s01e01.mkv"},
		{"нет маппинга — тождество", "/mnt/elsewhere/B.mkv", "/mnt/elsewhere/B.mkv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.ToExternalPath(tt.in); got != tt.want {
				t.Errorf("хотели %q, получили %q", tt.want, got)
			}
		})
	}
}

func TestRoundTripIdentity(t *testing.T) {
	// При cacheRoot == externalCacheRoot трансляция в пространство mover
	// тождественна для любого разрешённого пути.
	tr, _ := New(testMappings())

	cachePath, err := tr.ToCachePath("/lib/Shows/s01e01.mkv")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got := tr.ToExternalPath(cachePath); got != cachePath {
		t.Errorf("хотели тождество %q, получили %q", cachePath, got)
	}
}

func TestToArchivePath(t *testing.T) {
	tr, _ := New(testMappings())

	got, err := tr.ToArchivePath("/mnt/cache/Movies/A.mkv")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != "/mnt/user/Movies/A.mkv" {
		t.Errorf("хотели /mnt/user/Movies/A.mkv, получили %q", got)
	}

	if _, err := tr.ToArchivePath("/mnt/elsewhere/B.mkv"); err == nil {
		t.Error("эвикция без маппинга должна возвращать ошибку")
	}
}

func TestToArrayDirectPath(t *testing.T) {
	tr, _ := New(testMappings())

	tests := []struct {
		name   string
		in     string
		want   string
		wantOk bool
	}{
		{"прямой корень настроен", "/mnt/user/Movies/A.mkv", "/mnt/user0/Movies/A.mkv", true},
		{"прямой корень не настроен", "/mnt/user/Shows/s01e01.mkv", "", false},
		{"нет маппинга", "/mnt/elsewhere/B.mkv", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tr.ToArrayDirectPath(tt.in)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, хотели %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Errorf("хотели %q, получили %q", tt.want, got)
			}
		})
	}
}
