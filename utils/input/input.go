package input

import (
	"context"
	"errors"
	"fmt"

	"git.fiblab.net/general/common/v2/cache"
	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/general/common/v2/protoutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/network"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/protobuf/proto"
)

var log = logrus.WithField("module", "input")

var ErrNoMapSource = errors.New("input: map needs file or mongodb uri")

// Input 输入数据
// 功能：存储构建路网所需的输入数据
// 说明：拓扑文件与城市地图二选一，拓扑文件可以附带车辆类别参数
type Input struct {
	Topology *TopologyFile
	Map      *mapv2.Map

	nodeIDs map[int32]int32 // 拓扑文件节点ID -> 路网节点ID，Build后有效
}

// Init 加载输入数据
// 功能：根据配置加载拓扑文件，或从文件、MongoDB（带缓存）加载城市地图
// 参数：config-配置对象，cacheDir-缓存目录
// 返回：输入数据
func Init(config config.Config, cacheDir string) (*Input, error) {
	res := &Input{}
	if config.Input.Topology != "" {
		t, err := LoadTopologyFile(config.Input.Topology)
		if err != nil {
			return nil, err
		}
		res.Topology = t
		return res, nil
	}
	m, err := loadMap(config.Input, cacheDir)
	if err != nil {
		return nil, err
	}
	res.Map = m
	return res, nil
}

// Build 将输入数据构建为路网
// 说明：拓扑文件节点ID与城市地图路口ID只用于连接道路，路网按顺序重新分配ID，对应关系记录在nodeIDs中
func (in *Input) Build(n *network.Network) error {
	var (
		nodes map[int32]*node.Node
		err   error
	)
	switch {
	case in.Topology != nil:
		nodes, err = in.Topology.Build(n)
	case in.Map != nil:
		nodes, err = BuildFromMap(in.Map, n)
	default:
		return ErrNoMapSource
	}
	if err != nil {
		return err
	}
	in.nodeIDs = make(map[int32]int32, len(nodes))
	for id, nd := range nodes {
		in.nodeIDs[id] = nd.ID()
	}
	return nil
}

// loadMap 加载城市地图
// 算法说明：
// 1. 指定文件时直接读取protobuf文件
// 2. 否则连接MongoDB，经缓存下载
func loadMap(in config.Input, cacheDir string) (*mapv2.Map, error) {
	if in.Map == nil {
		return nil, ErrNoMapSource
	}
	if in.Map.File != "" {
		var m mapv2.Map
		if err := protoutil.UnmarshalFromFile(&m, in.Map.File); err != nil {
			return nil, fmt.Errorf("failed to load map from file: %w", err)
		}
		return &m, nil
	}
	if in.URI == "" && !in.Map.OnlyCache {
		return nil, ErrNoMapSource
	}
	cacheDir = mapCacheDir(cacheDir)
	var client *mongo.Client
	if in.URI != "" {
		client = mongoutil.NewClient(in.URI)
		defer client.Disconnect(context.Background())
	}
	return load[mapv2.Map](client, *in.Map, cacheDir, nil, nil)
}

// load 加载数据（泛型函数）
// 功能：从MongoDB或缓存中加载数据
// 参数：client-MongoDB客户端，inputPath-输入路径配置，cacheDir-缓存目录，classNameMapper-类名映射器，handler-数据处理函数，opts-查询选项
// 说明：only_cache时不连接数据库，只读缓存
func load[T any, PT interface {
	proto.Message
	*T
}](
	client *mongo.Client,
	inputPath config.InputPath,
	cacheDir string,
	classNameMapper func(string) string,
	handler func(className string, pb any, rawBson bson.Raw) error,
	opts ...*options.FindOptions,
) (PT, error) {
	var downloadFunc func() PT
	if !inputPath.OnlyCache {
		coll := mongoutil.GetMongoColl(client, inputPath)
		downloadFunc = func() PT {
			pb, errs := mongoutil.DownloadPbFromMongo[T, PT](context.Background(), coll, classNameMapper, handler, opts...)
			for _, err := range errs {
				log.Errorf("failed to download: %v", err)
			}
			return pb
		}
	}
	log.Infof("start fetching from %s.%s", inputPath.DB, inputPath.Col)
	res, err := cache.LoadWithCache(cacheDir, inputPath, downloadFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to load with cache: %w", err)
	}
	log.Infof("finish fetching from %s.%s", inputPath.DB, inputPath.Col)
	return res, nil
}

// NodeIDs 将输入数据中的节点ID（拓扑文件节点ID或城市地图路口ID）转换为路网节点ID
// 说明：需在Build之后调用，输入数据中不存在的ID返回ErrUnknownNode
func (in *Input) NodeIDs(ids []int32) ([]int32, error) {
	if len(ids) == 0 {
		return ids, nil
	}
	res := make([]int32, 0, len(ids))
	for _, id := range ids {
		nid, ok := in.nodeIDs[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
		}
		res = append(res, nid)
	}
	return res, nil
}
