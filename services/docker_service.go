package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/ScribblerCoder/ctfd-whale/models"
	"github.com/ScribblerCoder/ctfd-whale/utils"
)

// ErrTopologyParse 表示编组题目的镜像字段不是合法的 JSON 对象。
var ErrTopologyParse = errors.New("challenge image parse error, please check the challenge image string")

// Engine 持有 Docker Swarm 客户端。显式构造后注入各编排调用，
// 配置变更时用 ReinitDocker 整体重建而不是就地改连接。
type Engine struct {
	cli *client.Client
}

var Docker *Engine

// InitDocker 初始化引擎客户端并检查 Swarm 状态。连不上引擎是配置错误，
// 返回给调用方提示管理员，而不是让进程退出。
func InitDocker() error {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if url := GetSetting("docker_api_url"); url != "" {
		opts = append(opts, client.WithHost(url))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("docker connection error, please check the docker api url: %w", err)
	}

	info, err := cli.Info(context.Background())
	if err != nil {
		return fmt.Errorf("docker connection error, please check the docker api url: %w", err)
	}
	if info.Swarm.LocalNodeState != swarm.LocalNodeStateActive {
		return errors.New("docker is not running in swarm mode, please run 'docker swarm init'")
	}

	engine := &Engine{cli: cli}
	if creds := GetSetting("docker_credentials"); creds != "" {
		if err := engine.login(context.Background()); err != nil {
			return fmt.Errorf("registry login failed, check your credentials: %w", err)
		}
	}

	Docker = engine
	log.Println("Docker client initialized and connected to Swarm cluster.")
	return nil
}

// ReinitDocker 重建引擎客户端，管理员改完配置后调用。
func ReinitDocker() error {
	return InitDocker()
}

func encodeRegistryAuth(user, pass, server string) (string, error) {
	ac := registry.AuthConfig{
		Username:      user,
		Password:      pass,
		ServerAddress: server,
	}
	b, err := json.Marshal(ac)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func (e *Engine) login(ctx context.Context) error {
	creds := GetSetting("docker_credentials")
	parts := strings.SplitN(creds, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("docker_credentials must be user:password, got %q", creds)
	}
	_, err := e.cli.RegistryLogin(ctx, registry.AuthConfig{
		Username:      parts[0],
		Password:      parts[1],
		ServerAddress: GetSetting("docker_registry"),
	})
	return err
}

// ensureImage 在配置了镜像仓库凭证时预拉取镜像。
// 鉴权失败重新登录后再试一次，这是全系统唯一的自动重试。
func (e *Engine) ensureImage(ctx context.Context, ref string) error {
	creds := GetSetting("docker_credentials")
	if creds == "" {
		return nil
	}
	parts := strings.SplitN(creds, ":", 2)
	if len(parts) != 2 {
		return nil
	}
	auth, err := encodeRegistryAuth(parts[0], parts[1], GetSetting("docker_registry"))
	if err != nil {
		return err
	}

	pull := func() error {
		pullCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		rc, err := e.cli.ImagePull(pullCtx, ref, imagetypes.PullOptions{RegistryAuth: auth})
		if err != nil {
			return err
		}
		defer rc.Close()
		_, _ = io.Copy(io.Discard, rc)
		return nil
	}

	if err := pull(); err != nil {
		if errdefs.IsUnauthorized(err) {
			if err := e.login(ctx); err != nil {
				return fmt.Errorf("registry re-login failed: %w", err)
			}
			return pull()
		}
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	return nil
}

// Provision 为实例创建引擎侧资源。镜像字段以 { 开头时走编组拓扑，
// 否则创建单个服务。出错时由调用方触发 Teardown 收拾残局。
func (e *Engine) Provision(inst *models.Instance, challenge *models.Challenge) error {
	if strings.HasPrefix(strings.TrimSpace(challenge.DockerImage), "{") {
		return e.createGrouped(inst, challenge)
	}
	return e.createStandalone(inst, challenge)
}

func (e *Engine) createStandalone(inst *models.Instance, challenge *models.Challenge) error {
	ctx := context.Background()

	node, err := ChooseNode(challenge.DockerImage, GetSettingList("docker_swarm_nodes"))
	if err != nil {
		return err
	}
	if err := e.ensureImage(ctx, challenge.DockerImage); err != nil {
		return err
	}

	spec := swarm.ServiceSpec{
		Annotations: swarm.Annotations{
			Name:   inst.EngineKey(),
			Labels: map[string]string{"whale_id": inst.EngineKey()},
		},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: &swarm.ContainerSpec{
				Image: challenge.DockerImage,
				Env:   []string{"FLAG=" + inst.Flag},
				DNSConfig: &swarm.DNSConfig{
					Nameservers: GetSettingList("docker_dns"),
				},
			},
			Resources: &swarm.ResourceRequirements{
				Limits: &swarm.Limit{
					MemoryBytes: ConvertReadableText(challenge.MemoryLimit),
					NanoCPUs:    int64(challenge.CPULimit * 1e9),
				},
			},
			Networks: []swarm.NetworkAttachmentConfig{
				{Target: GetSetting("docker_auto_connect_network")},
			},
			Placement: &swarm.Placement{
				Constraints: []string{"node.labels.name==" + node},
			},
		},
		// dnsrr：不发布固定端口，组网内按名字解析
		EndpointSpec: &swarm.EndpointSpec{Mode: swarm.ResolutionModeDNSRR},
	}

	_, err = e.cli.ServiceCreate(ctx, spec, types.ServiceCreateOptions{})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

func (e *Engine) createGrouped(inst *models.Instance, challenge *models.Challenge) error {
	ctx := context.Background()

	// 拓扑解析失败要在任何引擎调用之前拒绝
	comps, err := ParseTopology(challenge.DockerImage)
	if err != nil {
		return err
	}

	rangePrefix, err := Pool.Acquire(ctx)
	if err != nil {
		return err
	}

	netName := inst.EngineKey()
	resp, err := e.cli.NetworkCreate(ctx, netName, network.CreateOptions{
		Driver:     "overlay",
		Scope:      "swarm",
		Internal:   true,
		Attachable: true,
		IPAM: &network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{{Subnet: rangePrefix}},
		},
		// 网段记在标签上，网络删除后按它归还池子
		Labels: map[string]string{"prefix": rangePrefix},
	})
	if err != nil {
		_ = Pool.Release(ctx, rangePrefix)
		return fmt.Errorf("create network: %w", err)
	}

	var dns []string
	for _, aux := range GetSettingList("docker_auto_connect_containers") {
		if err := e.cli.NetworkConnect(ctx, resp.ID, aux, nil); err != nil {
			return fmt.Errorf("connect %s to network: %w", aux, err)
		}
		if !strings.Contains(aux, "dns") {
			continue
		}
		nw, err := e.cli.NetworkInspect(ctx, resp.ID, network.InspectOptions{})
		if err != nil {
			return fmt.Errorf("inspect network: %w", err)
		}
		for _, endpoint := range nw.Containers {
			if endpoint.Name == aux {
				dns = append(dns, strings.SplitN(endpoint.IPv4Address, "/", 2)[0])
			}
		}
	}

	nodes := GetSettingList("docker_swarm_nodes")
	var node string
	for i, comp := range comps {
		name := fmt.Sprintf("%d-%s", inst.UserID, utils.NewSuffix())
		if i == 0 {
			// 主服务复用实例自身的后缀，按标签删除时能直接找到
			name = inst.EngineKey()
			node, err = ChooseNode(comp.Image, nodes)
			if err != nil {
				return err
			}
		}
		if err := e.ensureImage(ctx, comp.Image); err != nil {
			return err
		}

		var env []string
		if comp.InjectFlag {
			env = []string{"FLAG=" + inst.Flag}
		}
		spec := swarm.ServiceSpec{
			Annotations: swarm.Annotations{
				Name:   name,
				Labels: map[string]string{"whale_id": inst.EngineKey()},
			},
			TaskTemplate: swarm.TaskSpec{
				ContainerSpec: &swarm.ContainerSpec{
					Image:         comp.Image,
					Env:           env,
					Hostname:      comp.Name,
					CapabilityAdd: comp.ExtraCaps,
					DNSConfig:     &swarm.DNSConfig{Nameservers: dns},
				},
				Resources: &swarm.ResourceRequirements{
					Limits: &swarm.Limit{
						MemoryBytes: ConvertReadableText(challenge.MemoryLimit),
						NanoCPUs:    int64(challenge.CPULimit * 1e9),
					},
				},
				Networks: []swarm.NetworkAttachmentConfig{
					{Target: netName, Aliases: []string{comp.Name}},
				},
				Placement: &swarm.Placement{
					Constraints: []string{"node.labels.name==" + node},
				},
			},
			EndpointSpec: &swarm.EndpointSpec{Mode: swarm.ResolutionModeDNSRR},
		}
		if _, err := e.cli.ServiceCreate(ctx, spec, types.ServiceCreateOptions{}); err != nil {
			return fmt.Errorf("create service %s: %w", comp.Name, err)
		}
	}
	return nil
}

// Teardown 删除实例名下的全部引擎对象。对半创建或已删除的实例重复调用
// 是安全的：查不到东西不算错。
func (e *Engine) Teardown(inst *models.Instance) error {
	ctx := context.Background()
	key := inst.EngineKey()

	svcs, err := e.cli.ServiceList(ctx, types.ServiceListOptions{
		Filters: filters.NewArgs(filters.Arg("label", "whale_id="+key)),
	})
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, s := range svcs {
		if err := e.cli.ServiceRemove(ctx, s.ID); err != nil {
			return fmt.Errorf("remove service %s: %w", s.Spec.Name, err)
		}
	}

	networks, err := e.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", key)),
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		for _, aux := range GetSettingList("docker_auto_connect_containers") {
			// 断开失败不影响后面的网络删除
			_ = e.cli.NetworkDisconnect(ctx, nw.ID, aux, true)
		}
		if err := e.cli.NetworkRemove(ctx, nw.ID); err != nil {
			return fmt.Errorf("remove network %s: %w", nw.Name, err)
		}
		if err := Pool.Release(ctx, nw.Labels["prefix"]); err != nil {
			log.Printf("Warning: failed to release network range %s: %v", nw.Labels["prefix"], err)
		}
	}
	return nil
}

// TopologyComponent 是编组拓扑中的一个逻辑组件。
type TopologyComponent struct {
	Name       string
	Image      string
	ExtraCaps  []string
	InjectFlag bool
}

// ParseTopology 解析编组题目的镜像 JSON，保留键的出现顺序：
// 第一个组件是主服务。值可以是镜像字符串，也可以是
// {image, extra_cap, flag} 配置对象，flag 缺省为 true。
func ParseTopology(raw string) ([]TopologyComponent, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTopologyParse, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrTopologyParse)
	}

	var comps []TopologyComponent
	for dec.More() {
		nameTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTopologyParse, err)
		}
		name := nameTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTopologyParse, err)
		}

		comp := TopologyComponent{Name: name, InjectFlag: true}
		trimmed := bytes.TrimSpace(value)
		if len(trimmed) > 0 && trimmed[0] == '"' {
			if err := json.Unmarshal(value, &comp.Image); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTopologyParse, err)
			}
		} else {
			var cfg struct {
				Image    string   `json:"image"`
				ExtraCap []string `json:"extra_cap"`
				Flag     *bool    `json:"flag"`
			}
			if err := json.Unmarshal(value, &cfg); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTopologyParse, err)
			}
			comp.Image = cfg.Image
			comp.ExtraCaps = cfg.ExtraCap
			if cfg.Flag != nil {
				comp.InjectFlag = *cfg.Flag
			}
		}
		if comp.Image == "" {
			return nil, fmt.Errorf("%w: component %q has no image", ErrTopologyParse, name)
		}
		comps = append(comps, comp)
	}
	if len(comps) == 0 {
		return nil, fmt.Errorf("%w: no components", ErrTopologyParse)
	}
	return comps, nil
}

// ConvertReadableText 把 128m、1g 这类限额换算成字节数，
// 无法识别的后缀返回 0 而不是报错。
func ConvertReadableText(text string) int64 {
	lower := strings.ToLower(strings.TrimSpace(text))
	if len(lower) < 2 {
		return 0
	}

	value, err := strconv.ParseInt(lower[:len(lower)-1], 10, 64)
	if err != nil {
		return 0
	}
	switch lower[len(lower)-1] {
	case 'k':
		return value * 1024
	case 'm':
		return value * 1024 * 1024
	case 'g':
		return value * 1024 * 1024 * 1024
	}
	return 0
}

// ImageInfo 是镜像管理接口返回的条目。
type ImageInfo struct {
	Name         string            `json:"name"`
	ShortName    string            `json:"short_name"`
	ID           string            `json:"id"`
	Size         string            `json:"size"`
	Created      string            `json:"created"`
	CreatedAt    int64             `json:"created_timestamp"`
	Architecture string            `json:"architecture"`
	Labels       map[string]string `json:"labels"`
}

func newImageInfo(tag, prefix string, s imagetypes.Summary, arch string) ImageInfo {
	return ImageInfo{
		Name:         tag,
		ShortName:    strings.TrimPrefix(strings.TrimPrefix(tag, prefix), "/"),
		ID:           shortImageID(s.ID),
		Size:         formatSize(s.Size),
		Created:      time.Unix(s.Created, 0).UTC().Format("2006-01-02 15:04:05 UTC"),
		CreatedAt:    s.Created,
		Architecture: arch,
		Labels:       s.Labels,
	}
}

// ListImagesByPrefix 列出本地所有以 prefix 开头的镜像 tag，新镜像在前。
func (e *Engine) ListImagesByPrefix(prefix string) ([]ImageInfo, error) {
	ctx := context.Background()
	summaries, err := e.cli.ImageList(ctx, imagetypes.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	var result []ImageInfo
	for _, s := range summaries {
		var matched []string
		for _, tag := range s.RepoTags {
			if strings.HasPrefix(tag, prefix) {
				matched = append(matched, tag)
			}
		}
		if len(matched) == 0 {
			continue
		}
		// 架构只在 inspect 里有，查不到就留空
		arch := ""
		if inspect, _, err := e.cli.ImageInspectWithRaw(ctx, s.ID); err == nil {
			arch = inspect.Architecture
		}
		for _, tag := range matched {
			result = append(result, newImageInfo(tag, prefix, s, arch))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})
	return result, nil
}

// PullImage 拉取指定镜像。
func (e *Engine) PullImage(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var auth string
	if creds := GetSetting("docker_credentials"); strings.Count(creds, ":") == 1 {
		parts := strings.SplitN(creds, ":", 2)
		auth, _ = encodeRegistryAuth(parts[0], parts[1], GetSetting("docker_registry"))
	}
	rc, err := e.cli.ImagePull(ctx, name, imagetypes.PullOptions{RegistryAuth: auth})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", name, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// RemoveImage 删除指定镜像。
func (e *Engine) RemoveImage(name string, force bool) error {
	_, err := e.cli.ImageRemove(context.Background(), name, imagetypes.RemoveOptions{Force: force})
	if err != nil {
		return fmt.Errorf("remove image %q: %w", name, err)
	}
	return nil
}

func shortImageID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func formatSize(size int64) string {
	if size == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(size)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, units[unit])
}
